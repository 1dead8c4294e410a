// Package mongostore keeps cluster state in a single MongoDB collection so
// every broker node sees the same view.
//
// A string key is one document (_id "k\x1f<key>"). Every hash field, set
// member and sorted set member is a document of its own carrying the kind and
// key, so topic levels containing dots or dollar signs are never used as BSON
// field names. A collection exists while it has a member; adding or removing
// one touches a single document and is atomic without a transaction.
//
// Keys must not contain \x1f.
package mongostore

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/event"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/life-stream-dev/life-stream-mqtt-storage/internal/logger"
	"github.com/life-stream-dev/life-stream-mqtt-storage/internal/storage"
)

const (
	kindString = "s"
	kindHash   = "h"
	kindSet    = "m"
	kindZSet   = "z"

	sep = "\x1f"
)

type Options struct {
	// URI overrides the address built from Host, Port and the credentials.
	URI            string
	Host           string
	Port           uint64
	Username       string
	Password       string
	Database       string
	Collection     string
	AppName        string
	UseTLS         bool
	ConnectTimeout time.Duration
	SocketTimeout  time.Duration
	IdleTimeout    time.Duration
	Heartbeat      time.Duration
	MinPoolSize    uint64
	MaxPoolSize    uint64
}

func (o Options) uri() string {
	if o.URI != "" {
		return o.URI
	}
	if o.Username == "" {
		return fmt.Sprintf("mongodb://%s:%d/", o.Host, o.Port)
	}
	return fmt.Sprintf("mongodb://%s:%s@%s:%d/?authSource=admin",
		url.QueryEscape(o.Username), url.QueryEscape(o.Password), o.Host, o.Port)
}

type document struct {
	ID     string  `bson:"_id"`
	Kind   string  `bson:"kind"`
	Key    string  `bson:"key"`
	Member string  `bson:"member"`
	Value  string  `bson:"value"`
	Score  float64 `bson:"score"`
}

func stringID(key string) string {
	return "k" + sep + key
}

func memberID(kind, key, member string) string {
	return kind + sep + key + sep + member
}

type Store struct {
	client *mongo.Client
	coll   *mongo.Collection
	closed atomic.Bool
}

var _ storage.Store = (*Store)(nil)

// Connect dials MongoDB, verifies the connection and prepares the collection.
func Connect(ctx context.Context, opts Options) (*Store, error) {
	logger.DebugF("Connecting to database...")

	clientOptions := options.Client().ApplyURI(opts.uri()).SetAppName(opts.AppName)
	if opts.MinPoolSize > 0 {
		clientOptions.SetMinPoolSize(opts.MinPoolSize)
	}
	if opts.MaxPoolSize > 0 {
		clientOptions.SetMaxPoolSize(opts.MaxPoolSize)
	}
	if opts.IdleTimeout > 0 {
		clientOptions.SetMaxConnIdleTime(opts.IdleTimeout)
	}
	if opts.ConnectTimeout > 0 {
		clientOptions.SetConnectTimeout(opts.ConnectTimeout)
	}
	if opts.SocketTimeout > 0 {
		clientOptions.SetSocketTimeout(opts.SocketTimeout)
	}
	if opts.Heartbeat > 0 {
		clientOptions.SetHeartbeatInterval(opts.Heartbeat)
	}
	if opts.UseTLS {
		clientOptions.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	clientOptions.SetPoolMonitor(&event.PoolMonitor{
		Event: func(evt *event.PoolEvent) {
			switch evt.Type {
			case event.ConnectionCreated:
				logger.DebugF("Database connection created: %s #%d", evt.Address, evt.ConnectionID)
			case event.ConnectionClosed:
				logger.DebugF("Database connection closed: %s #%d (%s)", evt.Address, evt.ConnectionID, evt.Reason)
			}
		},
	})

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, storage.Unavailable("connect", err)
	}
	if err = client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, storage.Unavailable("ping", err)
	}

	coll := client.Database(opts.Database).Collection(opts.Collection)
	_, err = coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "key", Value: 1}, {Key: "member", Value: 1}},
		Options: options.Index().SetName("kv_key_member"),
	})
	if err != nil {
		_ = client.Disconnect(ctx)
		return nil, storage.Unavailable("create index", err)
	}
	return &Store{client: client, coll: coll}, nil
}

func validKey(key string) error {
	if strings.Contains(key, sep) {
		return fmt.Errorf("%w: %q contains \\x1f", storage.ErrInvalidKey, key)
	}
	return nil
}

func (s *Store) begin(ctx context.Context, op, key string) error {
	if s.closed.Load() {
		return storage.ErrClosed
	}
	if err := validKey(key); err != nil {
		return err
	}
	return storage.CheckContext(ctx, op)
}

// Atomic runs fn inside a multi-document transaction. fn must issue its
// operations with the context it receives. Transactions need a replica set.
func (s *Store) Atomic(ctx context.Context, fn func(ctx context.Context, tx storage.Ops) error) error {
	if s.closed.Load() {
		return storage.ErrClosed
	}
	if err := storage.CheckContext(ctx, "atomic"); err != nil {
		return err
	}
	sess, err := s.client.StartSession()
	if err != nil {
		return storage.Unavailable("atomic", err)
	}
	defer sess.EndSession(ctx)

	var fnErr error
	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		fnErr = fn(sc, s)
		return nil, fnErr
	})
	if fnErr != nil {
		return fnErr
	}
	return storage.Unavailable("atomic", err)
}

func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	logger.InfoF("Closing database connection")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

var kindOnly = options.FindOne().SetProjection(bson.D{{Key: "kind", Value: 1}})

// kindOf returns the kind held at key, "" when the key is absent.
func (s *Store) kindOf(ctx context.Context, key string) (string, error) {
	var doc document
	err := s.coll.FindOne(ctx, bson.D{{Key: "key", Value: key}}, kindOnly).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return doc.Kind, nil
}

// expect fails with ErrWrongType when key holds anything but kind.
func (s *Store) expect(ctx context.Context, key, kind string) error {
	err := s.coll.FindOne(ctx, bson.D{
		{Key: "key", Value: key},
		{Key: "kind", Value: bson.D{{Key: "$ne", Value: kind}}},
	}, kindOnly).Err()
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: %s", storage.ErrWrongType, key)
}

// str loads the string document of key, nil when absent.
func (s *Store) str(ctx context.Context, key string) (*document, error) {
	var doc document
	err := s.coll.FindOne(ctx, bson.D{{Key: "key", Value: key}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if doc.Kind != kindString {
		return nil, fmt.Errorf("%w: %s", storage.ErrWrongType, key)
	}
	return &doc, nil
}

func membersOf(key, kind string) bson.D {
	return bson.D{{Key: "key", Value: key}, {Key: "kind", Value: kind}}
}

func (s *Store) find(ctx context.Context, filter bson.D, opts ...*options.FindOptions) ([]document, error) {
	cur, err := s.coll.Find(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	var docs []document
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	if err := s.begin(ctx, "get", key); err != nil {
		return "", false, err
	}
	doc, err := s.str(ctx, key)
	if err != nil || doc == nil {
		return "", false, storage.Unavailable("get", err)
	}
	return doc.Value, true, nil
}

func (s *Store) Set(ctx context.Context, key, value string) error {
	if err := s.begin(ctx, "set", key); err != nil {
		return err
	}
	kind, err := s.kindOf(ctx, key)
	if err != nil {
		return storage.Unavailable("set", err)
	}
	if kind != "" && kind != kindString {
		if _, err := s.coll.DeleteMany(ctx, bson.D{{Key: "key", Value: key}}); err != nil {
			return storage.Unavailable("set", err)
		}
	}
	_, err = s.coll.ReplaceOne(ctx,
		bson.D{{Key: "_id", Value: stringID(key)}},
		document{ID: stringID(key), Kind: kindString, Key: key, Value: value},
		options.Replace().SetUpsert(true))
	return storage.Unavailable("set", err)
}

func (s *Store) Del(ctx context.Context, key string) (bool, error) {
	if err := s.begin(ctx, "del", key); err != nil {
		return false, err
	}
	res, err := s.coll.DeleteMany(ctx, bson.D{{Key: "key", Value: key}})
	if err != nil {
		return false, storage.Unavailable("del", err)
	}
	return res.DeletedCount > 0, nil
}

// compareAndSwap replaces the value of document id when it still holds old.
// It reports false when a concurrent writer got there first.
func (s *Store) compareAndSwap(ctx context.Context, id string, found bool, old string, doc document) (bool, error) {
	if !found {
		_, err := s.coll.InsertOne(ctx, doc)
		if mongo.IsDuplicateKeyError(err) {
			return false, nil
		}
		return err == nil, err
	}
	res, err := s.coll.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: id}, {Key: "value", Value: old}},
		bson.D{{Key: "$set", Value: bson.D{{Key: "value", Value: doc.Value}}}})
	if err != nil {
		return false, err
	}
	return res.MatchedCount == 1, nil
}

func (s *Store) IncrBy(ctx context.Context, key string, delta int64) (int64, error) {
	if err := s.begin(ctx, "incrby", key); err != nil {
		return 0, err
	}
	for {
		doc, err := s.str(ctx, key)
		if err != nil {
			return 0, storage.Unavailable("incrby", err)
		}
		old := ""
		if doc != nil {
			old = doc.Value
		}
		n, err := parseInt(key, old)
		if err != nil {
			return 0, err
		}
		n += delta
		ok, err := s.compareAndSwap(ctx, stringID(key), doc != nil, old, document{
			ID: stringID(key), Kind: kindString, Key: key, Value: strconv.FormatInt(n, 10),
		})
		if err != nil {
			return 0, storage.Unavailable("incrby", err)
		}
		if ok {
			return n, nil
		}
		if err := storage.CheckContext(ctx, "incrby"); err != nil {
			return 0, err
		}
	}
}

// addMember upserts a collection member and reports whether it is new.
func (s *Store) addMember(ctx context.Context, kind, key, member string, set bson.D) (bool, error) {
	if err := s.expect(ctx, key, kind); err != nil {
		return false, err
	}
	update := bson.D{{Key: "$setOnInsert", Value: bson.D{
		{Key: "kind", Value: kind}, {Key: "key", Value: key}, {Key: "member", Value: member},
	}}}
	if len(set) > 0 {
		update = append(update, bson.E{Key: "$set", Value: set})
	}
	res, err := s.coll.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: memberID(kind, key, member)}},
		update,
		options.Update().SetUpsert(true))
	if err != nil {
		return false, err
	}
	return res.UpsertedCount == 1, nil
}

func (s *Store) removeMember(ctx context.Context, kind, key, member string) (bool, error) {
	if err := s.expect(ctx, key, kind); err != nil {
		return false, err
	}
	res, err := s.coll.DeleteOne(ctx, bson.D{{Key: "_id", Value: memberID(kind, key, member)}})
	if err != nil {
		return false, err
	}
	return res.DeletedCount > 0, nil
}

func (s *Store) SAdd(ctx context.Context, key, member string) (bool, error) {
	if err := s.begin(ctx, "sadd", key); err != nil {
		return false, err
	}
	added, err := s.addMember(ctx, kindSet, key, member, nil)
	return added, storage.Unavailable("sadd", err)
}

func (s *Store) SRem(ctx context.Context, key, member string) (bool, error) {
	if err := s.begin(ctx, "srem", key); err != nil {
		return false, err
	}
	removed, err := s.removeMember(ctx, kindSet, key, member)
	return removed, storage.Unavailable("srem", err)
}

func (s *Store) SScan(ctx context.Context, key, cursor string, limit int) ([]string, string, error) {
	if err := s.begin(ctx, "sscan", key); err != nil {
		return nil, "", err
	}
	if err := s.expect(ctx, key, kindSet); err != nil {
		return nil, "", storage.Unavailable("sscan", err)
	}
	filter := membersOf(key, kindSet)
	if cursor != "" {
		filter = append(filter, bson.E{Key: "member", Value: bson.D{{Key: "$gt", Value: cursor}}})
	}
	opts := options.Find().SetSort(bson.D{{Key: "member", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit) + 1)
	}
	docs, err := s.find(ctx, filter, opts)
	if err != nil {
		return nil, "", storage.Unavailable("sscan", err)
	}
	next := ""
	if limit > 0 && len(docs) > limit {
		docs = docs[:limit]
		next = docs[limit-1].Member
	}
	members := make([]string, len(docs))
	for i, d := range docs {
		members[i] = d.Member
	}
	return members, next, nil
}

func (s *Store) HSet(ctx context.Context, key, field, value string) (bool, error) {
	if err := s.begin(ctx, "hset", key); err != nil {
		return false, err
	}
	created, err := s.addMember(ctx, kindHash, key, field, bson.D{{Key: "value", Value: value}})
	return created, storage.Unavailable("hset", err)
}

func (s *Store) HSetAll(ctx context.Context, key string, fields map[string]string) error {
	if err := s.begin(ctx, "hsetall", key); err != nil {
		return err
	}
	if err := s.expect(ctx, key, kindHash); err != nil {
		return storage.Unavailable("hsetall", err)
	}
	if _, err := s.coll.DeleteMany(ctx, bson.D{{Key: "key", Value: key}}); err != nil {
		return storage.Unavailable("hsetall", err)
	}
	if len(fields) == 0 {
		return nil
	}
	docs := make([]interface{}, 0, len(fields))
	for f, v := range fields {
		docs = append(docs, document{ID: memberID(kindHash, key, f), Kind: kindHash, Key: key, Member: f, Value: v})
	}
	_, err := s.coll.InsertMany(ctx, docs)
	return storage.Unavailable("hsetall", err)
}

func (s *Store) HMGet(ctx context.Context, key string, fields ...string) ([]string, error) {
	if err := s.begin(ctx, "hmget", key); err != nil {
		return nil, err
	}
	if err := s.expect(ctx, key, kindHash); err != nil {
		return nil, storage.Unavailable("hmget", err)
	}
	values := make([]string, len(fields))
	ids := make([]string, len(fields))
	for i, f := range fields {
		ids[i] = memberID(kindHash, key, f)
	}
	docs, err := s.find(ctx, bson.D{{Key: "_id", Value: bson.D{{Key: "$in", Value: ids}}}})
	if err != nil {
		return nil, storage.Unavailable("hmget", err)
	}
	byField := make(map[string]string, len(docs))
	for _, d := range docs {
		byField[d.Member] = d.Value
	}
	for i, f := range fields {
		values[i] = byField[f]
	}
	return values, nil
}

func (s *Store) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	if err := s.begin(ctx, "hgetall", key); err != nil {
		return nil, err
	}
	if err := s.expect(ctx, key, kindHash); err != nil {
		return nil, storage.Unavailable("hgetall", err)
	}
	docs, err := s.find(ctx, membersOf(key, kindHash))
	if err != nil {
		return nil, storage.Unavailable("hgetall", err)
	}
	out := make(map[string]string, len(docs))
	for _, d := range docs {
		out[d.Member] = d.Value
	}
	return out, nil
}

func (s *Store) HDel(ctx context.Context, key, field string) (bool, error) {
	if err := s.begin(ctx, "hdel", key); err != nil {
		return false, err
	}
	removed, err := s.removeMember(ctx, kindHash, key, field)
	return removed, storage.Unavailable("hdel", err)
}

func (s *Store) HIncrBy(ctx context.Context, key, field string, delta int64) (int64, error) {
	if err := s.begin(ctx, "hincrby", key); err != nil {
		return 0, err
	}
	if err := s.expect(ctx, key, kindHash); err != nil {
		return 0, storage.Unavailable("hincrby", err)
	}
	id := memberID(kindHash, key, field)
	for {
		var doc document
		err := s.coll.FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&doc)
		found := err == nil
		if err != nil && !errors.Is(err, mongo.ErrNoDocuments) {
			return 0, storage.Unavailable("hincrby", err)
		}
		n, err := parseInt(key, doc.Value)
		if err != nil {
			return 0, err
		}
		n += delta
		ok, err := s.compareAndSwap(ctx, id, found, doc.Value, document{
			ID: id, Kind: kindHash, Key: key, Member: field, Value: strconv.FormatInt(n, 10),
		})
		if err != nil {
			return 0, storage.Unavailable("hincrby", err)
		}
		if ok {
			return n, nil
		}
		if err := storage.CheckContext(ctx, "hincrby"); err != nil {
			return 0, err
		}
	}
}

func (s *Store) ZAdd(ctx context.Context, key, member string, score float64) (bool, error) {
	if err := s.begin(ctx, "zadd", key); err != nil {
		return false, err
	}
	added, err := s.addMember(ctx, kindZSet, key, member, bson.D{{Key: "score", Value: score}})
	return added, storage.Unavailable("zadd", err)
}

func (s *Store) ZRem(ctx context.Context, key, member string) (bool, error) {
	if err := s.begin(ctx, "zrem", key); err != nil {
		return false, err
	}
	removed, err := s.removeMember(ctx, kindZSet, key, member)
	return removed, storage.Unavailable("zrem", err)
}

func (s *Store) ZRange(ctx context.Context, key string) ([]string, error) {
	if err := s.begin(ctx, "zrange", key); err != nil {
		return nil, err
	}
	if err := s.expect(ctx, key, kindZSet); err != nil {
		return nil, storage.Unavailable("zrange", err)
	}
	docs, err := s.find(ctx, membersOf(key, kindZSet),
		options.Find().SetSort(bson.D{{Key: "score", Value: 1}, {Key: "member", Value: 1}}))
	if err != nil {
		return nil, storage.Unavailable("zrange", err)
	}
	members := make([]string, len(docs))
	for i, d := range docs {
		members[i] = d.Member
	}
	return members, nil
}

func parseInt(key, s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s is not an integer", storage.ErrWrongType, key)
	}
	return n, nil
}
