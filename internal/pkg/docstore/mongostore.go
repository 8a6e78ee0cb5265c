package docstore

import (
	"context"
	log "log/slog"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStore 基于 MongoDB 的 Store 实现。
// 哨兵翻译：Union -> $addToSet/$each, Remove -> $pull/$in, Increment -> $inc,
// ServerTimestamp -> $currentDate, DeleteField -> $unset；
// 事务与批量写基于会话事务；实时订阅基于 Change Stream 触发重查。
type MongoStore struct {
	db *mongo.Database
}

func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{db: db}
}

func (s *MongoStore) Create(ctx context.Context, collection string, data Doc) (string, error) {
	oid := primitive.NewObjectID()
	doc := toBson(data)
	doc["_id"] = oid
	if _, err := s.db.Collection(collection).InsertOne(ctx, doc); err != nil {
		return "", errors.Wrap(err, "docstore: insert failed")
	}
	return oid.Hex(), nil
}

func (s *MongoStore) Get(ctx context.Context, path string) (*Snapshot, error) {
	collection, id, err := SplitPath(path)
	if err != nil {
		return nil, err
	}
	var raw bson.M
	err = s.db.Collection(collection).FindOne(ctx, bson.M{"_id": docID(id)}).Decode(&raw)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return &Snapshot{ID: id, Path: path, Exists: false}, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "docstore: get failed")
	}
	return rawSnapshot(collection, raw), nil
}

func (s *MongoStore) Set(ctx context.Context, path string, data Doc, merge bool) error {
	collection, id, err := SplitPath(path)
	if err != nil {
		return err
	}
	col := s.db.Collection(collection)
	if merge {
		_, err = col.UpdateOne(ctx, bson.M{"_id": docID(id)},
			buildUpdate(data), options.Update().SetUpsert(true))
	} else {
		doc := toBson(data)
		doc["_id"] = docID(id)
		_, err = col.ReplaceOne(ctx, bson.M{"_id": docID(id)}, doc, options.Replace().SetUpsert(true))
	}
	return errors.Wrap(err, "docstore: set failed")
}

func (s *MongoStore) Update(ctx context.Context, path string, fields Doc) error {
	collection, id, err := SplitPath(path)
	if err != nil {
		return err
	}
	res, err := s.db.Collection(collection).UpdateOne(ctx, bson.M{"_id": docID(id)}, buildUpdate(fields))
	if err != nil {
		return errors.Wrap(err, "docstore: update failed")
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) Delete(ctx context.Context, path string) error {
	collection, id, err := SplitPath(path)
	if err != nil {
		return err
	}
	_, err = s.db.Collection(collection).DeleteOne(ctx, bson.M{"_id": docID(id)})
	return errors.Wrap(err, "docstore: delete failed")
}

func (s *MongoStore) Find(ctx context.Context, collection string, q Query) ([]*Snapshot, error) {
	filter := bson.M{}
	for field, v := range q.Filters {
		filter[field] = v
	}
	for field, candidates := range q.StatusIn {
		filter[field] = bson.M{"$in": candidates}
	}
	opts := options.Find()
	if q.OrderBy != "" {
		dir := 1
		if q.Desc {
			dir = -1
		}
		opts.SetSort(bson.D{{Key: q.OrderBy, Value: dir}})
	}
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}
	cur, err := s.db.Collection(collection).Find(ctx, filter, opts)
	if err != nil {
		return nil, errors.Wrap(err, "docstore: find failed")
	}
	defer func() { _ = cur.Close(ctx) }()

	var res []*Snapshot
	for cur.Next(ctx) {
		var raw bson.M
		if err = cur.Decode(&raw); err != nil {
			return nil, errors.Wrap(err, "docstore: decode failed")
		}
		res = append(res, rawSnapshot(collection, raw))
	}
	return res, cur.Err()
}

// Listen 监听集合变更。Change Stream 每收到一条事件就整体重查一次，
// 投递语义为 at-least-once，回调侧需幂等。
func (s *MongoStore) Listen(collection string, q Query, fn func([]*Snapshot)) (Unsubscribe, error) {
	ctx, cancel := context.WithCancel(context.Background())
	cs, err := s.db.Collection(collection).Watch(ctx, mongo.Pipeline{})
	if err != nil {
		cancel()
		return nil, errors.Wrap(err, "docstore: watch failed")
	}

	deliver := func() {
		snaps, ferr := s.Find(ctx, collection, q)
		if ferr != nil {
			if ctx.Err() == nil {
				log.Error("docstore listen requery failed", "collection", collection, "err", ferr)
			}
			return
		}
		fn(snaps)
	}

	go func() {
		defer func() { _ = cs.Close(context.Background()) }()
		deliver()
		for cs.Next(ctx) {
			deliver()
		}
	}()

	return func() { cancel() }, nil
}

func (s *MongoStore) RunTransaction(ctx context.Context, fn func(tx Txn) error) error {
	sess, err := s.db.Client().StartSession()
	if err != nil {
		return errors.Wrap(err, "docstore: start session failed")
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (any, error) {
		tx := &mongoTxn{store: s, ctx: sc}
		if err := fn(tx); err != nil {
			return nil, err
		}
		return nil, tx.flush()
	})
	return err
}

func (s *MongoStore) Batch() Batch {
	return &mongoBatch{store: s}
}

// ---- 事务 ----

type mongoTxn struct {
	store *MongoStore
	ctx   mongo.SessionContext
	ops   []func(ctx context.Context) error
}

func (t *mongoTxn) Get(path string) (*Snapshot, error) {
	return t.store.Get(t.ctx, path)
}

func (t *mongoTxn) Set(path string, data Doc, merge bool) {
	t.ops = append(t.ops, func(ctx context.Context) error {
		return t.store.Set(ctx, path, data, merge)
	})
}

func (t *mongoTxn) Update(path string, fields Doc) {
	t.ops = append(t.ops, func(ctx context.Context) error {
		err := t.store.Update(ctx, path, fields)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	})
}

func (t *mongoTxn) Delete(path string) {
	t.ops = append(t.ops, func(ctx context.Context) error {
		return t.store.Delete(ctx, path)
	})
}

func (t *mongoTxn) flush() error {
	for _, op := range t.ops {
		if err := op(t.ctx); err != nil {
			return err
		}
	}
	return nil
}

type mongoBatch struct {
	store *MongoStore
	ops   []func(tx Txn)
}

func (b *mongoBatch) Set(path string, data Doc, merge bool) {
	b.ops = append(b.ops, func(tx Txn) { tx.Set(path, data, merge) })
}

func (b *mongoBatch) Update(path string, fields Doc) {
	b.ops = append(b.ops, func(tx Txn) { tx.Update(path, fields) })
}

func (b *mongoBatch) Delete(path string) {
	b.ops = append(b.ops, func(tx Txn) { tx.Delete(path) })
}

func (b *mongoBatch) Commit(ctx context.Context) error {
	return b.store.RunTransaction(ctx, func(tx Txn) error {
		for _, op := range b.ops {
			op(tx)
		}
		return nil
	})
}

// ---- 类型映射 ----

func docID(id string) any {
	if oid, err := primitive.ObjectIDFromHex(id); err == nil {
		return oid
	}
	return id
}

func rawSnapshot(collection string, raw bson.M) *Snapshot {
	var id string
	switch v := raw["_id"].(type) {
	case primitive.ObjectID:
		id = v.Hex()
	case string:
		id = v
	}
	delete(raw, "_id")
	data := Doc{}
	for k, v := range raw {
		data[k] = fromBson(v)
	}
	return &Snapshot{ID: id, Path: JoinPath(collection, id), Exists: true, Data: data}
}

// toBson 插入路径的哨兵降级：插入语句不支持更新算子，
// Union 取初始值集合、Increment 取增量、ServerTimestamp 取当前时间
func toBson(data Doc) bson.M {
	out := bson.M{}
	for k, v := range data {
		switch op := v.(type) {
		case UnionOp:
			out[k] = op.Values
		case RemoveOp:
			out[k] = bson.A{}
		case IncrementOp:
			out[k] = op.Delta
		case ServerTimestampOp:
			out[k] = time.Now()
		case DeleteFieldOp:
			// 插入时无字段可删
		default:
			out[k] = v
		}
	}
	return out
}

func fromBson(v any) any {
	switch val := v.(type) {
	case bson.M:
		out := Doc{}
		for k, e := range val {
			out[k] = fromBson(e)
		}
		return out
	case bson.A:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = fromBson(e)
		}
		return out
	case primitive.DateTime:
		return val.Time()
	case int32:
		return int64(val)
	default:
		return v
	}
}

// buildUpdate 将携带哨兵的字段集翻译为 Mongo 更新文档
func buildUpdate(fields Doc) bson.M {
	set := bson.M{}
	addToSet := bson.M{}
	pull := bson.M{}
	inc := bson.M{}
	current := bson.M{}
	unset := bson.M{}

	for path, v := range fields {
		switch op := v.(type) {
		case UnionOp:
			addToSet[path] = bson.M{"$each": op.Values}
		case RemoveOp:
			pull[path] = bson.M{"$in": op.Values}
		case IncrementOp:
			inc[path] = op.Delta
		case ServerTimestampOp:
			current[path] = true
		case DeleteFieldOp:
			unset[path] = ""
		default:
			set[path] = v
		}
	}

	update := bson.M{}
	if len(set) > 0 {
		update["$set"] = set
	}
	if len(addToSet) > 0 {
		update["$addToSet"] = addToSet
	}
	if len(pull) > 0 {
		update["$pull"] = pull
	}
	if len(inc) > 0 {
		update["$inc"] = inc
	}
	if len(current) > 0 {
		update["$currentDate"] = current
	}
	if len(unset) > 0 {
		update["$unset"] = unset
	}
	return update
}
