// Package mongostore implements the scene object store on MongoDB. Documents
// carry the authoritative persisted shape; the scene indexes, a sparse index
// on attributes.parent and a TTL index on expireAt are ensured at connect
// time. The TTL index is a backstop only; the expiration sweeper deletes
// expired documents explicitly and every read path filters expiry itself.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/scenesync/scenesync/lib/model"
	"github.com/scenesync/scenesync/lib/store"
)

const collectionName = "sceneobjects"

type mongoStore struct {
	client *mongo.Client
	coll   *mongo.Collection
}

// Connect opens a client, verifies the connection and ensures the indexes.
func Connect(ctx context.Context, uri, database string) (store.Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("mongo ping: %w", err)
	}

	s := &mongoStore{
		client: client,
		coll:   client.Database(database).Collection(collectionName),
	}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return s, nil
}

func (s *mongoStore) ensureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "object_id", Value: 1}}},
		{Keys: bson.D{{Key: "type", Value: 1}}},
		{Keys: bson.D{{Key: "namespace", Value: 1}}},
		{Keys: bson.D{{Key: "sceneId", Value: 1}}},
		{Keys: bson.D{{Key: "attributes.parent", Value: 1}}, Options: options.Index().SetSparse(true)},
		{Keys: bson.D{{Key: "expireAt", Value: 1}}, Options: options.Index().SetExpireAfterSeconds(0)},
	})
	if err != nil {
		return fmt.Errorf("mongo ensure indexes: %w", err)
	}
	return nil
}

// --------------------------------------------------------------------------
// Filters
// --------------------------------------------------------------------------

func keyFilter(key model.Key) bson.M {
	return bson.M{
		"namespace": key.Namespace,
		"sceneId":   key.SceneID,
		"object_id": key.ObjectID,
	}
}

func sceneFilter(namespace, sceneID string) bson.M {
	return bson.M{"namespace": namespace, "sceneId": sceneID}
}

// notExpired matches documents whose expireAt is absent or in the future.
func notExpired(now time.Time) bson.M {
	return bson.M{"$not": bson.M{"$lt": now}}
}

// --------------------------------------------------------------------------
// Write Operations
// --------------------------------------------------------------------------

func (s *mongoStore) Upsert(ctx context.Context, obj *model.SceneObject) error {
	now := time.Now().UTC()
	set := bson.M{
		"type":       obj.Type,
		"attributes": obj.Attributes,
		"realm":      obj.Realm,
		"updatedAt":  now,
	}
	update := bson.M{
		"$set":         set,
		"$setOnInsert": bson.M{"createdAt": now},
	}
	if obj.ExpireAt != nil {
		set["expireAt"] = *obj.ExpireAt
	} else {
		update["$unset"] = bson.M{"expireAt": ""}
	}
	_, err := s.coll.UpdateOne(ctx, keyFilter(obj.Key()), update, options.Update().SetUpsert(true))
	if err != nil {
		return store.NewError(store.RetCInternalError, fmt.Sprintf("upsert %s: %v", obj.Key(), err))
	}
	return nil
}

func (s *mongoStore) Replace(ctx context.Context, obj *model.SceneObject) error {
	doc := obj.Clone()
	doc.UpdatedAt = time.Now().UTC()
	res, err := s.coll.ReplaceOne(ctx, keyFilter(obj.Key()), &doc)
	if err != nil {
		return store.NewError(store.RetCInternalError, fmt.Sprintf("replace %s: %v", obj.Key(), err))
	}
	if res.MatchedCount == 0 {
		return store.NewError(store.RetCNotFound, "no document to replace: "+obj.Key().String())
	}
	return nil
}

func (s *mongoStore) Patch(ctx context.Context, key model.Key, sets map[string]any, unsets []string) error {
	set := bson.M{"updatedAt": time.Now().UTC()}
	for path, v := range sets {
		set[path] = v
	}
	update := bson.M{"$set": set}
	if len(unsets) > 0 {
		unset := bson.M{}
		for _, path := range unsets {
			unset[path] = ""
		}
		update["$unset"] = unset
	}
	res, err := s.coll.UpdateOne(ctx, keyFilter(key), update)
	if err != nil {
		return store.NewError(store.RetCInternalError, fmt.Sprintf("patch %s: %v", key, err))
	}
	if res.MatchedCount == 0 {
		return store.NewError(store.RetCNotFound, "no document to patch: "+key.String())
	}
	return nil
}

// --------------------------------------------------------------------------
// Read Operations
// --------------------------------------------------------------------------

func (s *mongoStore) Get(ctx context.Context, key model.Key) (*model.SceneObject, bool, error) {
	filter := keyFilter(key)
	filter["expireAt"] = notExpired(time.Now().UTC())

	var obj model.SceneObject
	err := s.coll.FindOne(ctx, filter).Decode(&obj)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, store.NewError(store.RetCInternalError, fmt.Sprintf("get %s: %v", key, err))
	}
	return &obj, true, nil
}

func (s *mongoStore) Exists(ctx context.Context, key model.Key) (bool, error) {
	n, err := s.coll.CountDocuments(ctx, keyFilter(key))
	if err != nil {
		return false, store.NewError(store.RetCInternalError, fmt.Sprintf("exists %s: %v", key, err))
	}
	return n > 0, nil
}

func (s *mongoStore) ListScene(ctx context.Context, namespace, sceneID, typeFilter string) ([]model.SceneObject, error) {
	filter := sceneFilter(namespace, sceneID)
	filter["expireAt"] = notExpired(time.Now().UTC())
	if typeFilter != "" {
		filter["type"] = typeFilter
	}

	cursor, err := s.coll.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "attributes.parent", Value: 1}}))
	if err != nil {
		return nil, store.NewError(store.RetCInternalError, fmt.Sprintf("list %s/%s: %v", namespace, sceneID, err))
	}
	var objs []model.SceneObject
	if err := cursor.All(ctx, &objs); err != nil {
		return nil, store.NewError(store.RetCInternalError, fmt.Sprintf("list %s/%s: %v", namespace, sceneID, err))
	}
	return objs, nil
}

func (s *mongoStore) CountScene(ctx context.Context, namespace, sceneID string) (int64, error) {
	n, err := s.coll.CountDocuments(ctx, sceneFilter(namespace, sceneID))
	if err != nil {
		return 0, store.NewError(store.RetCInternalError, fmt.Sprintf("count %s/%s: %v", namespace, sceneID, err))
	}
	return n, nil
}

func (s *mongoStore) Keys(ctx context.Context) ([]model.Key, error) {
	cursor, err := s.coll.Find(ctx, bson.M{},
		options.Find().SetProjection(bson.M{"_id": 0, "object_id": 1, "namespace": 1, "sceneId": 1}))
	if err != nil {
		return nil, store.NewError(store.RetCInternalError, fmt.Sprintf("keys: %v", err))
	}
	var docs []struct {
		ObjectID  string `bson:"object_id"`
		Namespace string `bson:"namespace"`
		SceneID   string `bson:"sceneId"`
	}
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, store.NewError(store.RetCInternalError, fmt.Sprintf("keys: %v", err))
	}
	keys := make([]model.Key, 0, len(docs))
	for _, d := range docs {
		keys = append(keys, model.Key{Namespace: d.Namespace, SceneID: d.SceneID, ObjectID: d.ObjectID})
	}
	return keys, nil
}

func (s *mongoStore) Scenes(ctx context.Context, namespace string) ([]string, error) {
	pipeline := mongo.Pipeline{}
	if namespace != "" {
		pipeline = append(pipeline, bson.D{{Key: "$match", Value: bson.M{"namespace": namespace}}})
	}
	pipeline = append(pipeline, bson.D{{Key: "$group", Value: bson.M{
		"_id": bson.M{"namespace": "$namespace", "sceneId": "$sceneId"},
	}}})

	cursor, err := s.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, store.NewError(store.RetCInternalError, fmt.Sprintf("scenes: %v", err))
	}
	var groups []struct {
		ID struct {
			Namespace string `bson:"namespace"`
			SceneID   string `bson:"sceneId"`
		} `bson:"_id"`
	}
	if err := cursor.All(ctx, &groups); err != nil {
		return nil, store.NewError(store.RetCInternalError, fmt.Sprintf("scenes: %v", err))
	}
	out := make([]string, 0, len(groups))
	for _, g := range groups {
		out = append(out, g.ID.Namespace+"/"+g.ID.SceneID)
	}
	sort.Strings(out)
	return out, nil
}

// --------------------------------------------------------------------------
// Delete Operations
// --------------------------------------------------------------------------

func (s *mongoStore) DeleteObject(ctx context.Context, key model.Key) error {
	if _, err := s.coll.DeleteOne(ctx, keyFilter(key)); err != nil {
		return store.NewError(store.RetCInternalError, fmt.Sprintf("delete %s: %v", key, err))
	}
	return nil
}

func (s *mongoStore) DeleteChildren(ctx context.Context, namespace, sceneID, parentID string) ([]model.Key, error) {
	filter := sceneFilter(namespace, sceneID)
	filter["attributes.parent"] = parentID
	keys, err := s.deleteMatching(ctx, filter)
	if err != nil {
		return nil, store.NewError(store.RetCInternalError, fmt.Sprintf("delete children of %s: %v", parentID, err))
	}
	return keys, nil
}

func (s *mongoStore) DeleteChildrenByPrefix(ctx context.Context, namespace, sceneID, parentPrefix string) ([]model.Key, error) {
	filter := sceneFilter(namespace, sceneID)
	filter["attributes.parent"] = primitive.Regex{Pattern: "^" + regexp.QuoteMeta(parentPrefix)}
	keys, err := s.deleteMatching(ctx, filter)
	if err != nil {
		return nil, store.NewError(store.RetCInternalError, fmt.Sprintf("delete children under %s: %v", parentPrefix, err))
	}
	return keys, nil
}

// deleteMatching projects the keys of the matching documents before
// removing them. The two steps are not atomic; a child created in
// between is deleted unreported, which the next resync reconciles.
func (s *mongoStore) deleteMatching(ctx context.Context, filter bson.M) ([]model.Key, error) {
	cursor, err := s.coll.Find(ctx, filter,
		options.Find().SetProjection(bson.M{"_id": 0, "object_id": 1, "namespace": 1, "sceneId": 1}))
	if err != nil {
		return nil, err
	}
	var docs []struct {
		ObjectID  string `bson:"object_id"`
		Namespace string `bson:"namespace"`
		SceneID   string `bson:"sceneId"`
	}
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, nil
	}
	if _, err := s.coll.DeleteMany(ctx, filter); err != nil {
		return nil, err
	}
	keys := make([]model.Key, 0, len(docs))
	for _, d := range docs {
		keys = append(keys, model.Key{Namespace: d.Namespace, SceneID: d.SceneID, ObjectID: d.ObjectID})
	}
	return keys, nil
}

func (s *mongoStore) DeleteScene(ctx context.Context, namespace, sceneID string) (int64, error) {
	res, err := s.coll.DeleteMany(ctx, sceneFilter(namespace, sceneID))
	if err != nil {
		return 0, store.NewError(store.RetCInternalError, fmt.Sprintf("delete scene %s/%s: %v", namespace, sceneID, err))
	}
	return res.DeletedCount, nil
}

// --------------------------------------------------------------------------
// Lifecycle
// --------------------------------------------------------------------------

func (s *mongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

func (s *mongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
