package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/gocql/gocql"
	"github.com/joho/godotenv"
)

const (
	passRelationalToDocument = "relational_to_document"
	passDocumentToWideColumn = "document_to_wide_column"

	isolationReport = "report"
	isolationAbort  = "abort"
)

// MigrationConfig holds the full TOML-driven migration configuration.
type MigrationConfig struct {
	Schema     string           `toml:"schema"`
	Workers    int              `toml:"workers"`
	EnvFile    string           `toml:"env_file"`
	Relational RelationalConfig `toml:"relational"`
	Document   DocumentConfig   `toml:"document"`
	WideColumn WideColumnConfig `toml:"wide_column"`
	Passes     PassesConfig     `toml:"passes"`
	Isolation  IsolationConfig  `toml:"isolation"`
	Hooks      HooksConfig      `toml:"hooks"`

	// configDir is the directory containing the TOML file, used to resolve relative paths.
	configDir string
}

// RelationalConfig identifies the relational source engine and connection string.
type RelationalConfig struct {
	Type string `toml:"type"` // "mysql", "sqlite" or "postgres"
	DSN  string `toml:"dsn"`
}

type DocumentConfig struct {
	URI string `toml:"uri"`
}

type WideColumnConfig struct {
	Hosts             []string `toml:"hosts"`
	Port              int      `toml:"port"`
	Username          string   `toml:"username"`
	Password          string   `toml:"password"`
	ReplicationFactor int      `toml:"replication_factor"`
	Consistency       string   `toml:"consistency"`
}

// PassesConfig toggles the two migration passes.
type PassesConfig struct {
	RelationalToDocument bool `toml:"relational_to_document"`
	DocumentToWideColumn bool `toml:"document_to_wide_column"`
}

// IsolationConfig decides, per pass, whether a failed entity aborts the
// pass ("abort") or is reported while the pass continues ("report").
type IsolationConfig struct {
	RelationalToDocument string `toml:"relational_to_document"`
	DocumentToWideColumn string `toml:"document_to_wide_column"`
}

type HooksConfig struct {
	BeforeExport []string `toml:"before_export"`
}

// loadConfig reads a TOML config file and returns a MigrationConfig with
// defaults applied. A non-empty pass restricts the run to that pass.
func loadConfig(path, pass string) (*MigrationConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := MigrationConfig{
		Workers: 1,
		WideColumn: WideColumnConfig{
			Hosts:             []string{"127.0.0.1"},
			Port:              9042,
			ReplicationFactor: 1,
			Consistency:       "quorum",
		},
		Passes: PassesConfig{
			RelationalToDocument: true,
			DocumentToWideColumn: true,
		},
		Isolation: IsolationConfig{
			RelationalToDocument: isolationReport,
			DocumentToWideColumn: isolationAbort,
		},
	}
	md, err := toml.Decode(string(data), &cfg)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if unknown := md.Undecoded(); len(unknown) > 0 {
		keys := make([]string, len(unknown))
		for i, k := range unknown {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("unknown config keys: %s", strings.Join(keys, ", "))
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	cfg.configDir = filepath.Dir(absPath)

	if err := cfg.loadEnv(); err != nil {
		return nil, err
	}
	if err := cfg.expandEnv(); err != nil {
		return nil, err
	}

	switch pass {
	case "":
	case passRelationalToDocument:
		cfg.Passes = PassesConfig{RelationalToDocument: true}
	case passDocumentToWideColumn:
		cfg.Passes = PassesConfig{DocumentToWideColumn: true}
	default:
		return nil, fmt.Errorf("unknown pass %q (must be %s or %s)", pass, passRelationalToDocument, passDocumentToWideColumn)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *MigrationConfig) validate() error {
	if !c.Passes.RelationalToDocument && !c.Passes.DocumentToWideColumn {
		return fmt.Errorf("no pass enabled: set passes.%s or passes.%s", passRelationalToDocument, passDocumentToWideColumn)
	}
	if c.Workers <= 0 {
		c.Workers = 1
	}
	c.Schema = strings.TrimSpace(c.Schema)

	for key, v := range map[string]string{
		"isolation." + passRelationalToDocument: c.Isolation.RelationalToDocument,
		"isolation." + passDocumentToWideColumn: c.Isolation.DocumentToWideColumn,
	} {
		switch v {
		case isolationReport, isolationAbort:
		default:
			return fmt.Errorf("%s must be one of: report, abort", key)
		}
	}

	if c.Passes.RelationalToDocument {
		// Relational source validation
		if c.Relational.Type == "" {
			return fmt.Errorf("relational.type is required (must be mysql, sqlite or postgres)")
		}
		if _, err := newSQLDialect(c.Relational.Type); err != nil {
			return err
		}
		if c.Relational.DSN == "" {
			return fmt.Errorf("relational.dsn is required")
		}
		if c.Schema == "" {
			switch c.Relational.Type {
			case "mysql":
				name, err := extractMySQLDBName(c.Relational.DSN)
				if err != nil {
					return fmt.Errorf("schema is required: %w", err)
				}
				c.Schema = name
			case "sqlite":
				c.Schema = "main"
			case "postgres":
				c.Schema = "public"
			}
		}
	}
	if c.Schema == "" {
		return fmt.Errorf("schema is required")
	}

	if c.Document.URI == "" {
		return fmt.Errorf("document.uri is required")
	}

	if c.Passes.DocumentToWideColumn {
		if len(c.WideColumn.Hosts) == 0 {
			return fmt.Errorf("wide_column.hosts must list at least one host")
		}
		if c.WideColumn.Port <= 0 || c.WideColumn.Port > 65535 {
			return fmt.Errorf("wide_column.port must be between 1 and 65535")
		}
		if c.WideColumn.ReplicationFactor <= 0 {
			return fmt.Errorf("wide_column.replication_factor must be positive")
		}
		if _, err := gocql.ParseConsistencyWrapper(c.WideColumn.Consistency); err != nil {
			return fmt.Errorf("wide_column.consistency: %w", err)
		}
	}
	return nil
}

// loadEnv loads credentials from env_file, or from .env next to the config
// when present. Variables already set in the environment win.
func (c *MigrationConfig) loadEnv() error {
	if c.EnvFile != "" {
		if err := godotenv.Load(c.resolvePath(c.EnvFile)); err != nil {
			return fmt.Errorf("load env_file: %w", err)
		}
		return nil
	}
	err := godotenv.Load(c.resolvePath(".env"))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnv substitutes ${VAR} references in connection settings.
func (c *MigrationConfig) expandEnv() error {
	for key, field := range map[string]*string{
		"relational.dsn":       &c.Relational.DSN,
		"document.uri":         &c.Document.URI,
		"wide_column.username": &c.WideColumn.Username,
		"wide_column.password": &c.WideColumn.Password,
	} {
		expanded, err := expandBraced(*field)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*field = expanded
	}
	return nil
}

func expandBraced(s string) (string, error) {
	var missing []string
	out := envRef.ReplaceAllStringFunc(s, func(ref string) string {
		name := envRef.FindStringSubmatch(ref)[1]
		v, ok := os.LookupEnv(name)
		if !ok {
			missing = append(missing, name)
		}
		return v
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("undefined environment variable(s): %s", strings.Join(missing, ", "))
	}
	return out, nil
}

// resolvePath resolves a path relative to the config file directory.
func (c *MigrationConfig) resolvePath(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.configDir, p)
}

// isolation returns the failure policy of a pass.
func (c *MigrationConfig) isolation(pass string) string {
	if pass == passRelationalToDocument {
		return c.Isolation.RelationalToDocument
	}
	return c.Isolation.DocumentToWideColumn
}
