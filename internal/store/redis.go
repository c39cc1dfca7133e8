package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"mines-backend/internal/errs"
	"mines-backend/internal/models"
)

type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	// Retries bounds how many times a contended unit of work is re-run.
	Retries int
	// Timeout bounds the total time spent on one unit of work.
	Timeout time.Duration
}

// RedisStore keeps every record as JSON and makes units of work atomic with
// WATCH/MULTI/EXEC.
type RedisStore struct {
	client  *redis.Client
	retries int
	timeout time.Duration
}

func NewRedisStore(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisStoreFromClient(client, opts), nil
}

func NewRedisStoreFromClient(client *redis.Client, opts RedisOptions) *RedisStore {
	if opts.Retries < 1 {
		opts.Retries = 8
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Second
	}
	return &RedisStore{client: client, retries: opts.Retries, timeout: opts.Timeout}
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Atomic(ctx context.Context, fn func(Tx) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	for attempt := 1; attempt <= s.retries; attempt++ {
		err := s.client.Watch(ctx, func(rtx *redis.Tx) error {
			t := &redisTx{ctx: ctx, tx: rtx}
			if err := fn(t); err != nil {
				return err
			}
			return t.commit(ctx)
		})
		switch {
		case err == nil:
			return nil
		case errors.Is(err, redis.TxFailedErr):
			log.WithField("attempt", attempt).Debug("redis unit of work contended, retrying")
		case errs.Known(err):
			return err
		case ctx.Err() != nil:
			return fmt.Errorf("%w: %v", errs.ErrContention, ctx.Err())
		default:
			return errs.Persistence("redis unit of work", err)
		}

		if err := sleepJitter(ctx, attempt); err != nil {
			return fmt.Errorf("%w: %v", errs.ErrContention, err)
		}
	}
	return fmt.Errorf("%w: gave up after %d attempts", errs.ErrContention, s.retries)
}

func sleepJitter(ctx context.Context, attempt int) error {
	d := retryBaseDelay*time.Duration(attempt) + time.Duration(rand.Int63n(int64(retryBaseDelay)))
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type redisTx struct {
	// ctx carries the unit's deadline; reads use it instead of the caller's.
	ctx    context.Context
	tx     *redis.Tx
	writes []func(context.Context, redis.Pipeliner)
	seqs   map[string]int64
}

func (t *redisTx) get(key string) (string, error) {
	if err := t.tx.Watch(t.ctx, key).Err(); err != nil {
		return "", err
	}
	return t.tx.Get(t.ctx, key).Result()
}

func (t *redisTx) commit(ctx context.Context) error {
	if len(t.writes) == 0 {
		return nil
	}
	_, err := t.tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
		for _, w := range t.writes {
			w(ctx, p)
		}
		return nil
	})
	return err
}

func (t *redisTx) queue(w func(context.Context, redis.Pipeliner)) {
	t.writes = append(t.writes, w)
}

func (t *redisTx) Wallet(ctx context.Context, userID string) (*models.Wallet, error) {
	data, err := t.get(fmt.Sprintf(KeyWallet, userID))
	if err == redis.Nil {
		return nil, fmt.Errorf("%w: %s", errs.ErrAccountNotFound, userID)
	}
	if err != nil {
		return nil, err
	}
	return decodeWallet(data)
}

func (t *redisTx) PutWallet(ctx context.Context, w *models.Wallet) error {
	data, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("failed to marshal wallet: %w", err)
	}
	key := fmt.Sprintf(KeyWallet, w.UserID)
	t.queue(func(ctx context.Context, p redis.Pipeliner) {
		p.Set(ctx, key, data, 0)
	})
	return nil
}

func (t *redisTx) Session(ctx context.Context, id string) (*models.GameSession, error) {
	data, err := t.get(fmt.Sprintf(KeyGameSession, id))
	if err == redis.Nil {
		return nil, fmt.Errorf("%w: %s", errs.ErrSessionNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return decodeSession(data)
}

func (t *redisTx) ActiveSession(ctx context.Context, userID string, gameType models.GameType) (*models.GameSession, error) {
	id, err := t.get(fmt.Sprintf(KeyUserActiveGame, userID, gameType))
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	session, err := t.Session(ctx, id)
	if errors.Is(err, errs.ErrSessionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !session.IsActive() {
		return nil, nil
	}
	return session, nil
}

func (t *redisTx) PutSession(ctx context.Context, s *models.GameSession) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal game session: %w", err)
	}

	sessionKey := fmt.Sprintf(KeyGameSession, s.ID)
	activeKey := fmt.Sprintf(KeyUserActiveGame, s.UserID, s.GameType)

	if s.IsActive() {
		t.queue(func(ctx context.Context, p redis.Pipeliner) {
			p.Set(ctx, sessionKey, data, 0)
			p.Set(ctx, activeKey, s.ID, 0)
		})
		return nil
	}

	current, err := t.get(activeKey)
	if err != nil && err != redis.Nil {
		return err
	}
	completedKey := fmt.Sprintf(KeyUserCompletedGames, s.UserID)
	var score float64
	if s.CompletedAt != nil {
		score = float64(s.CompletedAt.UnixMicro())
	}
	t.queue(func(ctx context.Context, p redis.Pipeliner) {
		p.Set(ctx, sessionKey, data, 0)
		if current == s.ID {
			p.Del(ctx, activeKey)
		}
		p.ZAdd(ctx, completedKey, redis.Z{Score: score, Member: s.ID})
	})
	return nil
}

func (t *redisTx) AppendTransaction(ctx context.Context, tx *models.Transaction) error {
	data, err := json.Marshal(tx)
	if err != nil {
		return fmt.Errorf("failed to marshal transaction: %w", err)
	}
	seq, err := t.nextSeq(tx.UserID)
	if err != nil {
		return err
	}
	txKey := fmt.Sprintf(KeyTransaction, tx.ID)
	userTxKey := fmt.Sprintf(KeyUserTransactions, tx.UserID)

	t.queue(func(ctx context.Context, p redis.Pipeliner) {
		p.SetNX(ctx, txKey, data, 0)
		p.ZAdd(ctx, userTxKey, redis.Z{Score: float64(seq), Member: tx.ID})
	})
	return nil
}

// nextSeq hands out the user's ledger sequence numbers. They order the
// transaction index, so entries written in the same instant keep commit order.
func (t *redisTx) nextSeq(userID string) (int64, error) {
	key := fmt.Sprintf(KeyUserTransactionSeq, userID)
	n, ok := t.seqs[key]
	if !ok {
		v, err := t.get(key)
		switch {
		case err == redis.Nil:
		case err != nil:
			return 0, err
		default:
			if n, err = strconv.ParseInt(v, 10, 64); err != nil {
				return 0, errs.Persistence("decode transaction sequence", err)
			}
		}
	}
	n++
	if t.seqs == nil {
		t.seqs = make(map[string]int64)
	}
	t.seqs[key] = n
	t.queue(func(ctx context.Context, p redis.Pipeliner) {
		p.Set(ctx, key, n, 0)
	})
	return n, nil
}

func (s *RedisStore) GetWallet(ctx context.Context, userID string) (*models.Wallet, error) {
	data, err := s.client.Get(ctx, fmt.Sprintf(KeyWallet, userID)).Result()
	if err == redis.Nil {
		return nil, fmt.Errorf("%w: %s", errs.ErrAccountNotFound, userID)
	}
	if err != nil {
		return nil, errs.Persistence("get wallet", err)
	}
	return decodeWallet(data)
}

func (s *RedisStore) GetSession(ctx context.Context, id string) (*models.GameSession, error) {
	data, err := s.client.Get(ctx, fmt.Sprintf(KeyGameSession, id)).Result()
	if err == redis.Nil {
		return nil, fmt.Errorf("%w: %s", errs.ErrSessionNotFound, id)
	}
	if err != nil {
		return nil, errs.Persistence("get game session", err)
	}
	return decodeSession(data)
}

func (s *RedisStore) GetActiveSession(ctx context.Context, userID string, gameType models.GameType) (*models.GameSession, error) {
	id, err := s.client.Get(ctx, fmt.Sprintf(KeyUserActiveGame, userID, gameType)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Persistence("get active game", err)
	}

	session, err := s.GetSession(ctx, id)
	if errors.Is(err, errs.ErrSessionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !session.IsActive() {
		return nil, nil
	}
	return session, nil
}

func (s *RedisStore) ListTransactions(ctx context.Context, userID string, limit int) ([]*models.Transaction, error) {
	limit = clampLimit(limit)

	txIDs, err := s.client.ZRevRange(ctx, fmt.Sprintf(KeyUserTransactions, userID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, errs.Persistence("get transaction ids", err)
	}
	if len(txIDs) == 0 {
		return []*models.Transaction{}, nil
	}

	keys := make([]string, len(txIDs))
	for i, id := range txIDs {
		keys[i] = fmt.Sprintf(KeyTransaction, id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, errs.Persistence("get transactions", err)
	}

	transactions := make([]*models.Transaction, 0, len(values))
	for i, v := range values {
		data, ok := v.(string)
		if !ok {
			log.Warnf("transaction %s indexed but missing", txIDs[i])
			continue
		}
		var tx models.Transaction
		if err := json.Unmarshal([]byte(data), &tx); err != nil {
			return nil, errs.Persistence("decode transaction", err)
		}
		transactions = append(transactions, &tx)
	}
	return transactions, nil
}

func (s *RedisStore) ListCompletedSessions(ctx context.Context, userID string, limit int) ([]*models.GameSession, error) {
	limit = clampLimit(limit)

	ids, err := s.client.ZRevRange(ctx, fmt.Sprintf(KeyUserCompletedGames, userID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, errs.Persistence("get completed game ids", err)
	}
	if len(ids) == 0 {
		return []*models.GameSession{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = fmt.Sprintf(KeyGameSession, id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, errs.Persistence("get completed games", err)
	}

	sessions := make([]*models.GameSession, 0, len(values))
	for i, v := range values {
		data, ok := v.(string)
		if !ok {
			log.Warnf("game session %s indexed but missing", ids[i])
			continue
		}
		session, err := decodeSession(data)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, nil
}

func (s *RedisStore) AddBigWin(ctx context.Context, win *models.BigWin) error {
	data, err := json.Marshal(win)
	if err != nil {
		return fmt.Errorf("failed to marshal big win: %w", err)
	}
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.LPush(ctx, KeyBigWins, data)
		p.LTrim(ctx, KeyBigWins, 0, bigWinRetention-1)
		return nil
	})
	if err != nil {
		return errs.Persistence("add big win", err)
	}
	return nil
}

func (s *RedisStore) RecentBigWins(ctx context.Context, limit int) ([]*models.BigWin, error) {
	if limit <= 0 {
		return []*models.BigWin{}, nil
	}
	items, err := s.client.LRange(ctx, KeyBigWins, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, errs.Persistence("get big wins", err)
	}

	wins := make([]*models.BigWin, 0, len(items))
	for _, item := range items {
		var w models.BigWin
		if err := json.Unmarshal([]byte(item), &w); err != nil {
			return nil, errs.Persistence("decode big win", err)
		}
		wins = append(wins, &w)
	}
	return wins, nil
}

func (s *RedisStore) CheckRateLimit(ctx context.Context, userID, action string, limit int, window time.Duration) (bool, error) {
	key := fmt.Sprintf(KeyRateLimit, userID, action)

	// NX also repairs a counter left without a TTL
	var incr *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, key)
		p.ExpireNX(ctx, key, window)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to check rate limit: %w", err)
	}
	return incr.Val() <= int64(limit), nil
}

func decodeWallet(data string) (*models.Wallet, error) {
	var w models.Wallet
	if err := json.Unmarshal([]byte(data), &w); err != nil {
		return nil, errs.Persistence("decode wallet", err)
	}
	return &w, nil
}

func decodeSession(data string) (*models.GameSession, error) {
	var s models.GameSession
	if err := json.Unmarshal([]byte(data), &s); err != nil {
		return nil, errs.Persistence("decode game session", err)
	}
	if err := s.Validate(); err != nil {
		return nil, errs.Persistence("corrupt game session", err)
	}
	return &s, nil
}
