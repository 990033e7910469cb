package rtdb

import (
	"math/rand/v2"
	"sync"
	"time"
)

// pushAlphabet sorts lexicographically in byte order, so ids generated at a
// later instant always compare greater than earlier ones.
const pushAlphabet = "-0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ_abcdefghijklmnopqrstuvwxyz"

const (
	pushTimestampChars = 8
	pushRandomChars    = 12
)

// pushIDSource issues 20-character push identifiers: eight characters encode
// the epoch-millisecond timestamp, twelve carry entropy. Ids requested within
// the same millisecond reuse the previous entropy incremented by one so that
// creation order is preserved even at sub-millisecond rates.
type pushIDSource struct {
	mu         sync.Mutex
	clock      func() time.Time
	lastMillis int64
	lastRandom [pushRandomChars]int
}

func newPushIDSource(clock func() time.Time) *pushIDSource {
	if clock == nil {
		clock = time.Now
	}
	return &pushIDSource{clock: clock}
}

// NewID returns the next push identifier.
func (s *pushIDSource) NewID() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	nowMillis := s.clock().UnixMilli()
	if nowMillis == s.lastMillis {
		s.incrementRandom()
	} else {
		s.lastMillis = nowMillis
		for i := range s.lastRandom {
			s.lastRandom[i] = rand.IntN(len(pushAlphabet))
		}
	}

	var id [pushTimestampChars + pushRandomChars]byte
	remaining := nowMillis
	for i := pushTimestampChars - 1; i >= 0; i-- {
		id[i] = pushAlphabet[remaining%int64(len(pushAlphabet))]
		remaining /= int64(len(pushAlphabet))
	}
	for i, value := range s.lastRandom {
		id[pushTimestampChars+i] = pushAlphabet[value]
	}
	return string(id[:])
}

func (s *pushIDSource) incrementRandom() {
	for i := pushRandomChars - 1; i >= 0; i-- {
		if s.lastRandom[i] < len(pushAlphabet)-1 {
			s.lastRandom[i]++
			return
		}
		s.lastRandom[i] = 0
	}
}
