package fairness

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"slices"
	"strconv"

	"mines-backend/internal/errs"
	"mines-backend/internal/models"
)

const serverSeedBytes = 32

// Seed is the commit-reveal material of one round. ServerSeedHash is
// published when the round starts; ServerSeed only once it has ended.
type Seed struct {
	ServerSeed     string
	ServerSeedHash string
	ClientSeed     string
}

// Layout is a committed mine layout.
type Layout struct {
	Seed
	MinePositions []int
}

// Generator produces the mine layout for a new session.
type Generator interface {
	NewLayout(clientSeed string, boardSize, mineCount int) (*Layout, error)
}

// HMACGenerator draws a fresh server seed from crypto/rand for every layout
// and derives positions from it with HMAC-SHA256.
type HMACGenerator struct{}

func (HMACGenerator) NewLayout(clientSeed string, boardSize, mineCount int) (*Layout, error) {
	if err := checkParams(boardSize, mineCount); err != nil {
		return nil, err
	}
	seed, err := NewSeed(clientSeed)
	if err != nil {
		return nil, err
	}
	positions, err := Positions(seed.ServerSeed, seed.ClientSeed, boardSize, mineCount)
	if err != nil {
		return nil, err
	}
	return &Layout{Seed: seed, MinePositions: positions}, nil
}

// Generate returns mineCount distinct cells of [0, boardSize), uniform over
// all subsets of that size, from a fresh random seed.
func Generate(boardSize, mineCount int) ([]int, error) {
	layout, err := HMACGenerator{}.NewLayout("", boardSize, mineCount)
	if err != nil {
		return nil, err
	}
	return layout.MinePositions, nil
}

// NewSeed creates a random server seed. An empty clientSeed is replaced by a
// random one.
func NewSeed(clientSeed string) (Seed, error) {
	raw := make([]byte, serverSeedBytes)
	if _, err := rand.Read(raw); err != nil {
		return Seed{}, fmt.Errorf("generate server seed: %w", err)
	}
	if clientSeed == "" {
		var err error
		if clientSeed, err = models.GenerateClientSeed(); err != nil {
			return Seed{}, err
		}
	}
	serverSeed := hex.EncodeToString(raw)
	return Seed{
		ServerSeed:     serverSeed,
		ServerSeedHash: HashServerSeed(serverSeed),
		ClientSeed:     clientSeed,
	}, nil
}

func HashServerSeed(serverSeed string) string {
	sum := sha256.Sum256([]byte(serverSeed))
	return hex.EncodeToString(sum[:])
}

// Positions deterministically derives the mine cells for a seed pair. The
// result is sorted ascending.
func Positions(serverSeed, clientSeed string, boardSize, mineCount int) ([]int, error) {
	if err := checkParams(boardSize, mineCount); err != nil {
		return nil, err
	}
	if serverSeed == "" {
		return nil, fmt.Errorf("%w: empty server seed", errs.ErrInvalidParameters)
	}

	src := newStream(serverSeed, clientSeed)
	cells := make([]int, boardSize)
	for i := range cells {
		cells[i] = i
	}
	// partial Fisher-Yates: the first mineCount slots end up a uniform subset
	for i := 0; i < mineCount; i++ {
		j := i + src.intn(boardSize-i)
		cells[i], cells[j] = cells[j], cells[i]
	}

	positions := slices.Clone(cells[:mineCount])
	slices.Sort(positions)
	return positions, nil
}

// Verify checks serverSeed against its published hash and recomputes the
// layout a player was dealt.
func Verify(serverSeed, serverSeedHash, clientSeed string, boardSize, mineCount int) ([]int, error) {
	want := HashServerSeed(serverSeed)
	if subtle.ConstantTimeCompare([]byte(want), []byte(serverSeedHash)) != 1 {
		return nil, fmt.Errorf("%w: server seed does not match hash", errs.ErrInvalidParameters)
	}
	return Positions(serverSeed, clientSeed, boardSize, mineCount)
}

func checkParams(boardSize, mineCount int) error {
	if boardSize < 2 {
		return fmt.Errorf("%w: board size %d", errs.ErrInvalidParameters, boardSize)
	}
	if mineCount < 1 || mineCount >= boardSize {
		return fmt.Errorf("%w: mine count %d must be in [1, %d]", errs.ErrInvalidParameters, mineCount, boardSize-1)
	}
	return nil
}

// stream is an HMAC-SHA256 counter-mode byte source.
type stream struct {
	mac     []byte
	prefix  string
	counter uint64
	buf     []byte
}

func newStream(serverSeed, clientSeed string) *stream {
	return &stream{mac: []byte(serverSeed), prefix: clientSeed + ":"}
}

func (s *stream) uint32() uint32 {
	if len(s.buf) < 4 {
		h := hmac.New(sha256.New, s.mac)
		h.Write([]byte(s.prefix + strconv.FormatUint(s.counter, 10)))
		s.counter++
		s.buf = append(s.buf, h.Sum(nil)...)
	}
	v := binary.BigEndian.Uint32(s.buf[:4])
	s.buf = s.buf[4:]
	return v
}

// intn returns a uniform value in [0, n) using rejection sampling.
func (s *stream) intn(n int) int {
	bound := uint64(n)
	limit := (uint64(1) << 32) / bound * bound
	for {
		v := uint64(s.uint32())
		if v < limit {
			return int(v % bound)
		}
	}
}
