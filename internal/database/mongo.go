package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"taskmarket/entity"
	"taskmarket/impl/market"
	"taskmarket/internal/config"
	"taskmarket/lib/sl"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readconcern"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"
)

const (
	collectionUsers      = "users"
	collectionOrders     = "orders"
	collectionExecutions = "executions"
	collectionQuotas     = "daily_quotas"
	collectionCodes      = "verification_codes"
	collectionSessions   = "verification_sessions"
	collectionLinks      = "link_codes"
)

// MongoDB keeps one client for the process lifetime: claim units and link
// codes run in multi-document transactions, which need a replica set.
type MongoDB struct {
	ctx      context.Context
	client   *mongo.Client
	database string
	log      *slog.Logger
}

func NewMongoClient(conf *config.Config, log *slog.Logger) (*MongoDB, error) {
	if !conf.Mongo.Enabled {
		return nil, fmt.Errorf("mongodb is disabled in configuration")
	}
	connectionUri := fmt.Sprintf("mongodb://%s:%s", conf.Mongo.Host, conf.Mongo.Port)
	clientOptions := options.Client().ApplyURI(connectionUri)
	if conf.Mongo.User != "" {
		clientOptions.SetAuth(options.Credential{
			Username:   conf.Mongo.User,
			Password:   conf.Mongo.Password,
			AuthSource: conf.Mongo.Database,
		})
	}
	if conf.Mongo.ReplicaSet != "" {
		clientOptions.SetReplicaSet(conf.Mongo.ReplicaSet)
	}
	ctx := context.Background()
	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("mongodb connect: %w", err)
	}
	m := &MongoDB{
		ctx:      ctx,
		client:   client,
		database: conf.Mongo.Database,
		log:      log.With(sl.Module("mongodb")),
	}
	if err = m.ensureIndexes(ctx); err != nil {
		m.Close()
		return nil, err
	}
	return m, nil
}

func (m *MongoDB) Close() {
	_ = m.client.Disconnect(m.ctx)
}

func (m *MongoDB) collection(name string) *mongo.Collection {
	return m.client.Database(m.database).Collection(name)
}

func (m *MongoDB) findError(err error) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return entity.ErrNotFound
	}
	return fmt.Errorf("mongodb find: %w", err)
}

func (m *MongoDB) ensureIndexes(ctx context.Context) error {
	indexes := map[string][]mongo.IndexModel{
		collectionUsers: {
			{Keys: bson.D{{"email", 1}}},
			{Keys: bson.D{{"phone", 1}}},
			{Keys: bson.D{{"telegram_id", 1}}},
		},
		collectionOrders: {
			{Keys: bson.D{{"status", 1}, {"platform", 1}, {"created_at", -1}}},
		},
		collectionExecutions: {
			{Keys: bson.D{{"order_id", 1}, {"executor_id", 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{"executor_id", 1}, {"created_at", -1}}},
		},
		collectionCodes: {
			{Keys: bson.D{{"owner_id", 1}, {"channel", 1}, {"code", 1}}},
			{Keys: bson.D{{"expires_at", 1}}},
		},
		collectionSessions: {
			{Keys: bson.D{{"token", 1}}, Options: options.Index().SetUnique(true)},
		},
	}
	for name, models := range indexes {
		if _, err := m.collection(name).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("create indexes on %s: %w", name, err)
		}
	}
	return nil
}

// transaction runs fn in a snapshot transaction; transient conflicts are
// retried by the driver, so fn must not keep state between attempts.
func (m *MongoDB) transaction(ctx context.Context, fn func(sc mongo.SessionContext) error) error {
	session, err := m.client.StartSession()
	if err != nil {
		return fmt.Errorf("mongodb session: %w", err)
	}
	defer session.EndSession(ctx)

	opts := options.Transaction().
		SetReadConcern(readconcern.Snapshot()).
		SetWriteConcern(writeconcern.Majority())
	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc)
	}, opts)
	return err
}

// documents with decimal money

type orderDoc struct {
	entity.Order `bson:",inline"`
	Reward       primitive.Decimal128 `bson:"reward"`
}

type executionDoc struct {
	entity.Execution `bson:",inline"`
	Reward           primitive.Decimal128 `bson:"reward"`
}

func toDecimal128(d decimal.Decimal) (primitive.Decimal128, error) {
	return primitive.ParseDecimal128(d.String())
}

func fromDecimal128(d primitive.Decimal128) (decimal.Decimal, error) {
	return decimal.NewFromString(d.String())
}

func newOrderDoc(order *entity.Order) (*orderDoc, error) {
	reward, err := toDecimal128(order.Reward)
	if err != nil {
		return nil, fmt.Errorf("order reward: %w", err)
	}
	return &orderDoc{Order: *order, Reward: reward}, nil
}

func (d *orderDoc) order() (*entity.Order, error) {
	o := d.Order
	reward, err := fromDecimal128(d.Reward)
	if err != nil {
		return nil, fmt.Errorf("order %s reward: %w", o.ID, err)
	}
	o.Reward = reward
	return &o, nil
}

func newExecutionDoc(execution *entity.Execution) (*executionDoc, error) {
	reward, err := toDecimal128(execution.Reward)
	if err != nil {
		return nil, fmt.Errorf("execution reward: %w", err)
	}
	return &executionDoc{Execution: *execution, Reward: reward}, nil
}

func (d *executionDoc) execution() (*entity.Execution, error) {
	e := d.Execution
	reward, err := fromDecimal128(d.Reward)
	if err != nil {
		return nil, fmt.Errorf("execution %s reward: %w", e.ID, err)
	}
	e.Reward = reward
	return &e, nil
}

// users

func (m *MongoDB) SaveUser(ctx context.Context, user *entity.User) error {
	u := *user
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	filter := bson.D{{"_id", u.ID}}
	opts := options.Replace().SetUpsert(true)
	_, err := m.collection(collectionUsers).ReplaceOne(ctx, filter, u, opts)
	return err
}

func (m *MongoDB) findUser(ctx context.Context, filter bson.D) (*entity.User, error) {
	var user entity.User
	err := m.collection(collectionUsers).FindOne(ctx, filter).Decode(&user)
	if err != nil {
		return nil, m.findError(err)
	}
	return &user, nil
}

func (m *MongoDB) User(ctx context.Context, id string) (*entity.User, error) {
	return m.findUser(ctx, bson.D{{"_id", id}})
}

func (m *MongoDB) UserByEmail(ctx context.Context, email string) (*entity.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, entity.ErrNotFound
	}
	return m.findUser(ctx, bson.D{{"email", email}})
}

func (m *MongoDB) UserByPhone(ctx context.Context, phone string) (*entity.User, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return nil, entity.ErrNotFound
	}
	return m.findUser(ctx, bson.D{{"phone", phone}})
}

func (m *MongoDB) UserByTelegramId(ctx context.Context, chatId int64) (*entity.User, error) {
	if chatId == 0 {
		return nil, entity.ErrNotFound
	}
	return m.findUser(ctx, bson.D{{"telegram_id", chatId}})
}

func (m *MongoDB) AdminTelegramIds(ctx context.Context) ([]int64, error) {
	filter := bson.D{
		{"role", bson.D{{"$in", bson.A{entity.RoleModerator, entity.RoleAdmin, entity.RoleSuperAdmin}}}},
		{"telegram_id", bson.D{{"$gt", 0}}},
	}
	cursor, err := m.collection(collectionUsers).Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var users []*entity.User
	if err = cursor.All(ctx, &users); err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(users))
	for _, u := range users {
		ids = append(ids, u.TelegramId)
	}
	return ids, nil
}

// orders and executions

func (m *MongoDB) SaveOrder(ctx context.Context, order *entity.Order) error {
	doc, err := newOrderDoc(order)
	if err != nil {
		return err
	}
	filter := bson.D{{"_id", order.ID}}
	opts := options.Replace().SetUpsert(true)
	_, err = m.collection(collectionOrders).ReplaceOne(ctx, filter, doc, opts)
	return err
}

func (m *MongoDB) ListOrders(ctx context.Context, filter entity.OrderFilter) ([]*entity.Order, error) {
	query := bson.D{}
	if filter.Status != "" {
		query = append(query, bson.E{Key: "status", Value: filter.Status})
	}
	if filter.Platform != "" {
		query = append(query, bson.E{Key: "platform", Value: filter.Platform})
	}
	opts := options.Find().SetSort(bson.D{{"created_at", -1}})
	cursor, err := m.collection(collectionOrders).Find(ctx, query, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []*orderDoc
	if err = cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	orders := make([]*entity.Order, 0, len(docs))
	for _, doc := range docs {
		o, err := doc.order()
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, nil
}

func (m *MongoDB) ListExecutions(ctx context.Context, executorID string) ([]*entity.Execution, error) {
	opts := options.Find().SetSort(bson.D{{"created_at", -1}})
	cursor, err := m.collection(collectionExecutions).Find(ctx, bson.D{{"executor_id", executorID}}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []*executionDoc
	if err = cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	executions := make([]*entity.Execution, 0, len(docs))
	for _, doc := range docs {
		e, err := doc.execution()
		if err != nil {
			return nil, err
		}
		executions = append(executions, e)
	}
	return executions, nil
}

func (m *MongoDB) GetQuota(ctx context.Context, key entity.QuotaKey) (*entity.DailyQuota, error) {
	var quota entity.DailyQuota
	err := m.collection(collectionQuotas).FindOne(ctx, bson.D{{"_id", key.String()}}).Decode(&quota)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, m.findError(err)
	}
	return &quota, nil
}

// RunClaim runs the claim unit in a transaction. Concurrent claims touching
// the same order or quota document conflict and are retried by the driver
// against the committed state, so each check sees fresh data.
func (m *MongoDB) RunClaim(ctx context.Context, fn func(tx market.ClaimTx) error) error {
	return m.transaction(ctx, func(sc mongo.SessionContext) error {
		return fn(&mongoTx{sc: sc, m: m})
	})
}

type mongoTx struct {
	sc mongo.SessionContext
	m  *MongoDB
}

func (tx *mongoTx) Order(orderID string) (*entity.Order, error) {
	var doc orderDoc
	if err := tx.m.collection(collectionOrders).FindOne(tx.sc, bson.D{{"_id", orderID}}).Decode(&doc); err != nil {
		return nil, tx.m.findError(err)
	}
	return doc.order()
}

func (tx *mongoTx) HasExecution(orderID, executorID string) (bool, error) {
	filter := bson.D{{"order_id", orderID}, {"executor_id", executorID}}
	n, err := tx.m.collection(collectionExecutions).CountDocuments(tx.sc, filter, options.Count().SetLimit(1))
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// IncrementQuota is a conditional $inc: the filter carries both ceilings,
// so the check and the write are one server-side operation.
func (tx *mongoTx) IncrementQuota(key entity.QuotaKey, platform entity.Platform, dailyCeiling, platformCeiling int) error {
	collection := tx.m.collection(collectionQuotas)
	id := key.String()

	insert := bson.D{{"$setOnInsert", bson.D{
		{"executor_id", key.ExecutorID},
		{"day", key.Day},
		{"total", 0},
		{"platforms", bson.D{}},
	}}}
	if _, err := collection.UpdateOne(tx.sc, bson.D{{"_id", id}}, insert, options.Update().SetUpsert(true)); err != nil {
		return fmt.Errorf("ensure quota: %w", err)
	}

	field := "platforms." + string(platform)
	filter := bson.D{
		{"_id", id},
		{"total", bson.D{{"$lt", dailyCeiling}}},
		{"$or", bson.A{
			bson.D{{field, bson.D{{"$exists", false}}}},
			bson.D{{field, bson.D{{"$lt", platformCeiling}}}},
		}},
	}
	update := bson.D{{"$inc", bson.D{{"total", 1}, {field, 1}}}}
	res, err := collection.UpdateOne(tx.sc, filter, update)
	if err != nil {
		return fmt.Errorf("increment quota: %w", err)
	}
	if res.MatchedCount > 0 {
		return nil
	}

	var quota entity.DailyQuota
	if err = collection.FindOne(tx.sc, bson.D{{"_id", id}}).Decode(&quota); err != nil {
		return tx.m.findError(err)
	}
	if quota.Total >= dailyCeiling {
		return entity.DailyLimit(dailyCeiling)
	}
	return entity.PlatformLimit(platform, platformCeiling)
}

func (tx *mongoTx) InsertExecution(execution *entity.Execution) error {
	doc, err := newExecutionDoc(execution)
	if err != nil {
		return err
	}
	if _, err = tx.m.collection(collectionExecutions).InsertOne(tx.sc, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return entity.ErrAlreadyClaimed
		}
		return fmt.Errorf("insert execution: %w", err)
	}
	return nil
}

func (tx *mongoTx) TransitionOrder(orderID string, from, to entity.OrderStatus) error {
	filter := bson.D{{"_id", orderID}, {"status", from}}
	update := bson.D{{"$set", bson.D{{"status", to}}}}
	res, err := tx.m.collection(collectionOrders).UpdateOne(tx.sc, filter, update)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	if res.MatchedCount == 0 {
		return entity.ErrOrderNotClaimable
	}
	return nil
}

// verification codes

func (m *MongoDB) SaveCode(ctx context.Context, code *entity.VerificationCode) error {
	_, err := m.collection(collectionCodes).InsertOne(ctx, code)
	return err
}

// ConsumeCode flips the used flag with a single FindOneAndUpdate, so of two
// concurrent submissions only one finds the code unused.
func (m *MongoDB) ConsumeCode(ctx context.Context, key entity.CodeKey, code string, now time.Time) (*entity.VerificationCode, error) {
	filter := bson.D{
		{"owner_id", key.OwnerID},
		{"channel", key.Channel},
		{"purpose", key.Purpose},
		{"session_id", key.SessionID},
		{"code", code},
		{"used", false},
		{"expires_at", bson.D{{"$gt", now}}},
	}
	update := bson.D{{"$set", bson.D{{"used", true}}}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var vc entity.VerificationCode
	err := m.collection(collectionCodes).FindOneAndUpdate(ctx, filter, update, opts).Decode(&vc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, entity.ErrInvalidOrExpiredCode
		}
		return nil, fmt.Errorf("consume code: %w", err)
	}
	return &vc, nil
}

// verification sessions

func (m *MongoDB) CreateSession(ctx context.Context, session *entity.VerificationSession) error {
	_, err := m.collection(collectionSessions).InsertOne(ctx, session)
	return err
}

func (m *MongoDB) SessionByToken(ctx context.Context, token string) (*entity.VerificationSession, error) {
	var session entity.VerificationSession
	if err := m.collection(collectionSessions).FindOne(ctx, bson.D{{"token", token}}).Decode(&session); err != nil {
		return nil, m.findError(err)
	}
	return &session, nil
}

func (m *MongoDB) SetFactor(ctx context.Context, sessionID string, channel entity.Channel) (*entity.VerificationSession, error) {
	var field string
	switch channel {
	case entity.ChannelSMS:
		field = "sms_verified"
	case entity.ChannelEmail:
		field = "email_verified"
	default:
		return nil, fmt.Errorf("channel %s is not a session factor", channel)
	}
	update := bson.D{{"$set", bson.D{{field, true}}}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var session entity.VerificationSession
	err := m.collection(collectionSessions).FindOneAndUpdate(ctx, bson.D{{"_id", sessionID}}, update, opts).Decode(&session)
	if err != nil {
		return nil, m.findError(err)
	}
	return &session, nil
}

func (m *MongoDB) MarkAuthenticated(ctx context.Context, sessionID string, at time.Time) (bool, error) {
	filter := bson.D{{"_id", sessionID}, {"authenticated_at", bson.D{{"$exists", false}}}}
	update := bson.D{{"$set", bson.D{{"authenticated_at", at}}}}
	res, err := m.collection(collectionSessions).UpdateOne(ctx, filter, update)
	if err != nil {
		return false, err
	}
	return res.ModifiedCount == 1, nil
}

// telegram link codes

func (m *MongoDB) CreateLinkCode(ctx context.Context, code *entity.LinkCode) error {
	_, err := m.collection(collectionLinks).InsertOne(ctx, code)
	return err
}

func (m *MongoDB) UseLinkCode(ctx context.Context, code string, chatId int64, username string, now time.Time) (*entity.User, error) {
	var user *entity.User
	err := m.transaction(ctx, func(sc mongo.SessionContext) error {
		filter := bson.D{
			{"_id", code},
			{"used", false},
			{"expires_at", bson.D{{"$gt", now}}},
		}
		update := bson.D{{"$set", bson.D{
			{"used", true},
			{"used_by", chatId},
			{"used_at", now},
		}}}
		var link entity.LinkCode
		err := m.collection(collectionLinks).FindOneAndUpdate(sc, filter, update).Decode(&link)
		if err != nil {
			if errors.Is(err, mongo.ErrNoDocuments) {
				return entity.ErrInvalidOrExpiredCode
			}
			return err
		}
		userUpdate := bson.D{{"$set", bson.D{
			{"telegram_id", chatId},
			{"telegram_username", username},
		}}}
		opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
		var u entity.User
		err = m.collection(collectionUsers).FindOneAndUpdate(sc, bson.D{{"_id", link.UserID}}, userUpdate, opts).Decode(&u)
		if err != nil {
			return m.findError(err)
		}
		user = &u
		return nil
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}
