package main

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// documentStore is the MongoDB adapter. A schema is a database; entities are
// collections.
type documentStore struct {
	client *mongo.Client
	db     *mongo.Database
}

func openDocumentStore(ctx context.Context, cfg DocumentConfig) (*documentStore, error) {
	client, err := mongo.Connect(options.Client().
		ApplyURI(cfg.URI).
		SetConnectTimeout(10 * time.Second).
		SetServerSelectionTimeout(10 * time.Second))
	if err != nil {
		return nil, fmt.Errorf("%w: connect MongoDB: %w", ErrConnectionFailure, err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(context.WithoutCancel(ctx))
		return nil, fmt.Errorf("%w: ping MongoDB: %w", ErrConnectionFailure, err)
	}
	return &documentStore{client: client}, nil
}

func (d *documentStore) Name() string { return "MongoDB" }

func (d *documentStore) databaseExists(ctx context.Context, name string) (bool, error) {
	names, err := d.client.ListDatabaseNames(ctx, bson.D{{Key: "name", Value: name}})
	if err != nil {
		return false, err
	}
	return slices.Contains(names, name), nil
}

func (d *documentStore) SelectSchema(ctx context.Context, name string) (SchemaHandle, error) {
	exists, err := d.databaseExists(ctx, name)
	if err != nil {
		return SchemaHandle{}, fmt.Errorf("check database %q: %w", name, err)
	}
	if !exists {
		return SchemaHandle{}, fmt.Errorf("MongoDB database %q: %w", name, ErrSchemaNotFound)
	}
	d.db = d.client.Database(name)
	return SchemaHandle{Name: name, Requested: name, Outcome: SchemaSelected}, nil
}

// CreateSchema binds a fresh database. MongoDB materializes it on the first insert.
func (d *documentStore) CreateSchema(ctx context.Context, name string) (SchemaHandle, error) {
	actual, outcome, err := pickSchemaName(ctx, name, d.databaseExists)
	if err != nil {
		return SchemaHandle{}, err
	}
	d.db = d.client.Database(actual)
	return SchemaHandle{Name: actual, Requested: name, Outcome: outcome}, nil
}

func (d *documentStore) bound() error {
	if d.db == nil {
		return fmt.Errorf("MongoDB: no database selected")
	}
	return nil
}

func (d *documentStore) ListEntities(ctx context.Context) ([]string, error) {
	if err := d.bound(); err != nil {
		return nil, err
	}
	names, err := d.db.ListCollectionNames(ctx, bson.D{})
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	slices.Sort(names)
	return names, nil
}

func (d *documentStore) collectionExists(ctx context.Context, name string) (bool, error) {
	names, err := d.db.ListCollectionNames(ctx, bson.D{{Key: "name", Value: name}})
	if err != nil {
		return false, err
	}
	return slices.Contains(names, name), nil
}

// DescribeEntity reports the fields of the first document. "_id" is the primary key.
func (d *documentStore) DescribeEntity(ctx context.Context, name string) (Entity, error) {
	if err := d.bound(); err != nil {
		return Entity{}, err
	}
	var doc bson.D
	err := d.db.Collection(name).FindOne(ctx, bson.D{}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		exists, cerr := d.collectionExists(ctx, name)
		if cerr != nil {
			return Entity{}, fmt.Errorf("describe %s: %w", name, cerr)
		}
		if !exists {
			return Entity{}, fmt.Errorf("collection %s: %w", name, ErrEntityNotFound)
		}
		return Entity{Name: name}, nil
	}
	if err != nil {
		return Entity{}, fmt.Errorf("describe %s: %w", name, err)
	}
	return describeDocument(name, doc), nil
}

func describeDocument(name string, doc bson.D) Entity {
	e := Entity{Name: name}
	for _, elem := range doc {
		e.Fields = append(e.Fields, Field{Name: elem.Key, Type: bsonTypeName(elem.Value)})
		if elem.Key == "_id" {
			e.PrimaryKey = append(e.PrimaryKey, elem.Key)
		}
	}
	return e
}

// bsonTypeName returns the BSON alias of a decoded value ("objectId", "string", ...).
func bsonTypeName(val any) string {
	switch val.(type) {
	case nil:
		return "null"
	case bson.ObjectID:
		return "objectid"
	case string:
		return "string"
	case int32:
		return "int"
	case int64:
		return "long"
	case float64:
		return "double"
	case bool:
		return "bool"
	case bson.D, bson.M:
		return "object"
	case bson.A:
		return "array"
	case bson.Binary, []byte:
		return "bindata"
	case bson.DateTime, time.Time:
		return "date"
	case bson.Decimal128:
		return "decimal"
	default:
		return fmt.Sprintf("%T", val)
	}
}

// FetchRecords returns every document of a collection. Records are projected
// onto the fields of the first document.
func (d *documentStore) FetchRecords(ctx context.Context, collection string) ([]Record, error) {
	if err := d.bound(); err != nil {
		return nil, err
	}
	exists, err := d.collectionExists(ctx, collection)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", collection, err)
	}
	if !exists {
		return nil, fmt.Errorf("collection %s: %w", collection, ErrEntityNotFound)
	}

	cursor, err := d.db.Collection(collection).Find(ctx, bson.D{})
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", collection, err)
	}
	defer cursor.Close(ctx)

	var docs []bson.D
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode %s: %w", collection, err)
	}
	return recordsFromDocuments(docs), nil
}

func recordsFromDocuments(docs []bson.D) []Record {
	if len(docs) == 0 {
		return nil
	}
	var fields []string
	for _, elem := range docs[0] {
		fields = append(fields, elem.Key)
	}

	records := make([]Record, 0, len(docs))
	for _, doc := range docs {
		values := make(map[string]any, len(doc))
		for _, elem := range doc {
			values[elem.Key] = normalizeBSONValue(elem.Value)
		}
		var rec Record
		for _, f := range fields {
			if v, ok := values[f]; ok {
				rec.Set(f, v)
			}
		}
		records = append(records, rec)
	}
	return records
}

// normalizeBSONValue maps driver-specific types onto the neutral value space.
func normalizeBSONValue(val any) any {
	switch v := val.(type) {
	case bson.Binary:
		return v.Data
	case int32:
		return int64(v)
	case bson.DateTime:
		return v.Time().UTC()
	}
	return val
}

func documentFromRecord(rec Record) bson.D {
	doc := make(bson.D, 0, rec.Len())
	for _, f := range rec.Fields() {
		v, _ := rec.Get(f)
		doc = append(doc, bson.E{Key: f, Value: v})
	}
	return doc
}

func (d *documentStore) InsertRecords(ctx context.Context, collection string, records []Record) error {
	if err := d.bound(); err != nil {
		return err
	}
	if len(records) == 0 {
		return fmt.Errorf("insert %s: %w", collection, ErrEmptyCollection)
	}
	docs := make([]any, len(records))
	for i, rec := range records {
		docs[i] = documentFromRecord(rec)
	}
	if _, err := d.db.Collection(collection).InsertMany(ctx, docs); err != nil {
		return fmt.Errorf("insert %s: %w", collection, err)
	}
	return nil
}

func (d *documentStore) FindIdentifier(ctx context.Context, collection, field string, value any) (any, error) {
	if err := d.bound(); err != nil {
		return nil, err
	}
	var found struct {
		ID any `bson:"_id"`
	}
	err := d.db.Collection(collection).
		FindOne(ctx, bson.D{{Key: field, Value: value}}, options.FindOne().SetProjection(bson.D{{Key: "_id", Value: 1}})).
		Decode(&found)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("%s.%s = %v: %w", collection, field, value, ErrReferenceNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find %s.%s: %w", collection, field, err)
	}
	return found.ID, nil
}

func (d *documentStore) SetField(ctx context.Context, collection string, id any, field string, value any) error {
	if err := d.bound(); err != nil {
		return err
	}
	_, err := d.db.Collection(collection).UpdateOne(ctx,
		bson.D{{Key: "_id", Value: id}},
		bson.D{{Key: "$set", Value: bson.D{{Key: field, Value: value}}}})
	if err != nil {
		return fmt.Errorf("set %s.%s: %w", collection, field, err)
	}
	return nil
}

func (d *documentStore) RenameField(ctx context.Context, collection, from, to string) error {
	if err := d.bound(); err != nil {
		return err
	}
	_, err := d.db.Collection(collection).UpdateMany(ctx,
		bson.D{},
		bson.D{{Key: "$rename", Value: bson.D{{Key: from, Value: to}}}})
	if err != nil {
		return fmt.Errorf("rename %s.%s: %w", collection, from, err)
	}
	return nil
}

func (d *documentStore) UnsetField(ctx context.Context, collection, field string) error {
	if err := d.bound(); err != nil {
		return err
	}
	_, err := d.db.Collection(collection).UpdateMany(ctx,
		bson.D{},
		bson.D{{Key: "$unset", Value: bson.D{{Key: field, Value: ""}}}})
	if err != nil {
		return fmt.Errorf("unset %s.%s: %w", collection, field, err)
	}
	return nil
}

func (d *documentStore) Close(ctx context.Context) error {
	return d.client.Disconnect(ctx)
}
