// Package mongostore implements GroupRepository, TranslationConfigRepository,
// and PkceChallengeRepository over MongoDB, following the TTL-index and
// upsert-via-ReplaceOne conventions gourdiantoken-master's
// gourdiantoken.repository.mongo.imp.go uses for its revoked/rotated token
// collections. Group/translation documents have no natural TTL so only the
// pkce_challenges collection gets one; the one-time-consume semantics come
// from FindOneAndDelete instead of the teacher's InsertOne-dedup trick.
package mongostore

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/aussie-gateway/auth-core/internal/authcore/autherr"
	"github.com/aussie-gateway/auth-core/internal/authcore/repository"
)

const (
	groupCollectionName       = "groups"
	translationCollectionName = "translation_configs"
	pkceCollectionName        = "pkce_challenges"
)

// groupDocument stores the opaque ciphertext blob produced by the caller's
// encryption box; mongostore never sees plaintext group fields.
type groupDocument struct {
	ID        string `bson:"_id"`
	Encrypted []byte `bson:"encrypted"`
}

// translationDocument is a per-provider claims-translation binding.
type translationDocument struct {
	Provider string            `bson:"_id"`
	Settings map[string]string `bson:"settings"`
}

// pkceDocument is a single-use PKCE code challenge with a TTL index on
// expires_at so abandoned challenges are reclaimed automatically.
type pkceDocument struct {
	State     string    `bson:"_id"`
	Challenge string    `bson:"challenge"`
	ExpiresAt time.Time `bson:"expires_at"`
}

// GroupStore implements repository.GroupRepository over MongoDB.
type GroupStore struct {
	collection *mongo.Collection
}

func NewGroupStore(db *mongo.Database) *GroupStore {
	return &GroupStore{collection: db.Collection(groupCollectionName)}
}

func (s *GroupStore) Store(ctx context.Context, id string, encrypted []byte) error {
	doc := groupDocument{ID: id, Encrypted: encrypted}
	opts := options.Replace().SetUpsert(true)
	if _, err := s.collection.ReplaceOne(ctx, bson.M{"_id": id}, doc, opts); err != nil {
		return autherr.Wrap(autherr.Transient, "upsert group", err)
	}
	return nil
}

func (s *GroupStore) FindByID(ctx context.Context, id string) ([]byte, error) {
	var doc groupDocument
	err := s.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, autherr.Wrap(autherr.Transient, "find group by id", err)
	}
	return doc.Encrypted, nil
}

func (s *GroupStore) FindAll(ctx context.Context) (map[string][]byte, error) {
	cur, err := s.collection.Find(ctx, bson.M{})
	if err != nil {
		return nil, autherr.Wrap(autherr.Transient, "list groups", err)
	}
	defer cur.Close(ctx)

	out := make(map[string][]byte)
	for cur.Next(ctx) {
		var doc groupDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, autherr.Wrap(autherr.Transient, "decode group", err)
		}
		out[doc.ID] = doc.Encrypted
	}
	if err := cur.Err(); err != nil {
		return nil, autherr.Wrap(autherr.Transient, "iterate groups", err)
	}
	return out, nil
}

func (s *GroupStore) Delete(ctx context.Context, id string) error {
	if _, err := s.collection.DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		return autherr.Wrap(autherr.Transient, "delete group", err)
	}
	return nil
}

// TranslationConfigStore implements repository.TranslationConfigRepository
// over MongoDB.
type TranslationConfigStore struct {
	collection *mongo.Collection
}

func NewTranslationConfigStore(db *mongo.Database) *TranslationConfigStore {
	return &TranslationConfigStore{collection: db.Collection(translationCollectionName)}
}

func (s *TranslationConfigStore) FindByProvider(ctx context.Context, provider string) (*repository.TranslationConfigRecord, error) {
	var doc translationDocument
	err := s.collection.FindOne(ctx, bson.M{"_id": provider}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, autherr.Wrap(autherr.Transient, "find translation config", err)
	}
	rec := repository.TranslationConfigRecord{Provider: doc.Provider, Settings: doc.Settings}
	return &rec, nil
}

func (s *TranslationConfigStore) FindAll(ctx context.Context) ([]repository.TranslationConfigRecord, error) {
	cur, err := s.collection.Find(ctx, bson.M{})
	if err != nil {
		return nil, autherr.Wrap(autherr.Transient, "list translation configs", err)
	}
	defer cur.Close(ctx)

	var out []repository.TranslationConfigRecord
	for cur.Next(ctx) {
		var doc translationDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, autherr.Wrap(autherr.Transient, "decode translation config", err)
		}
		out = append(out, repository.TranslationConfigRecord{Provider: doc.Provider, Settings: doc.Settings})
	}
	if err := cur.Err(); err != nil {
		return nil, autherr.Wrap(autherr.Transient, "iterate translation configs", err)
	}
	return out, nil
}

// Put seeds or replaces a provider's translation settings; used by
// configuration bootstrap rather than exposed through the repository
// interface.
func (s *TranslationConfigStore) Put(ctx context.Context, rec repository.TranslationConfigRecord) error {
	doc := translationDocument{Provider: rec.Provider, Settings: rec.Settings}
	opts := options.Replace().SetUpsert(true)
	if _, err := s.collection.ReplaceOne(ctx, bson.M{"_id": rec.Provider}, doc, opts); err != nil {
		return autherr.Wrap(autherr.Transient, "upsert translation config", err)
	}
	return nil
}

// PkceStore implements repository.PkceChallengeRepository over MongoDB.
// ConsumeChallenge relies on FindOneAndDelete for atomic single-use
// semantics, the same one-time-consume guarantee the teacher reached for
// token rotation via a unique-insert trick.
type PkceStore struct {
	collection *mongo.Collection
}

// NewPkceStore creates the TTL index on expires_at before returning, mirroring
// createMongoIndexes's "index up front" bootstrap pattern.
func NewPkceStore(ctx context.Context, db *mongo.Database) (*PkceStore, error) {
	collection := db.Collection(pkceCollectionName)
	index := mongo.IndexModel{
		Keys:    bson.D{{Key: "expires_at", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(0),
	}
	if _, err := collection.Indexes().CreateOne(ctx, index); err != nil {
		return nil, autherr.Wrap(autherr.Transient, "create pkce ttl index", err)
	}
	return &PkceStore{collection: collection}, nil
}

func (s *PkceStore) Store(ctx context.Context, challenge repository.PkceChallenge) error {
	doc := pkceDocument{State: challenge.State, Challenge: challenge.Challenge, ExpiresAt: challenge.ExpiresAt}
	opts := options.Replace().SetUpsert(true)
	if _, err := s.collection.ReplaceOne(ctx, bson.M{"_id": challenge.State}, doc, opts); err != nil {
		return autherr.Wrap(autherr.Transient, "store pkce challenge", err)
	}
	return nil
}

func (s *PkceStore) ConsumeChallenge(ctx context.Context, state string) (*repository.PkceChallenge, error) {
	var doc pkceDocument
	err := s.collection.FindOneAndDelete(ctx, bson.M{"_id": state}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, autherr.Wrap(autherr.Transient, "consume pkce challenge", err)
	}
	return &repository.PkceChallenge{State: doc.State, Challenge: doc.Challenge, ExpiresAt: doc.ExpiresAt}, nil
}
