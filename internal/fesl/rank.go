package fesl

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strconv"

	"github.com/mordorwide/plasma/internal/protocol"
)

// rankGetTopNAndMe serves the leaderboard screen. There is no stats
// pipeline behind it; the board lists registered personas with sampled
// values so the screen renders.
func (h *Handler) rankGetTopNAndMe(ctx context.Context, pkt *protocol.Packet, con protocol.Descriptor) error {
	s, err := h.sessions.ByConnection(ctx, con)
	if err != nil {
		return err
	}
	if s == nil {
		h.fail(ctx, pkt, con, protocol.CodeAuthFail)
		return fmt.Errorf("GetTopNAndMe: no session on %s", con.String())
	}

	key, ok := pkt.Data.Lookup("key")
	if !ok {
		return fmt.Errorf("GetTopNAndMe: no key provided")
	}

	minRank := 1
	if v, err := strconv.Atoi(pkt.Data.Get("minRank")); err == nil {
		minRank = v
	}
	maxRank := 10
	if v, err := strconv.Atoi(pkt.Data.Get("maxRank")); err == nil {
		maxRank = v
	}
	limit := maxRank - minRank + 1
	if limit < 0 {
		limit = 0
	}

	personas, err := h.store.Personas.ListTop(ctx, limit)
	if err != nil {
		return err
	}

	data := protocol.DictOf("TXN", "GetTopNAndMe")
	data.Set("stats.[]", strconv.Itoa(len(personas)))
	for i, p := range personas {
		prefix := fmt.Sprintf("stats.%d.", i)
		data.Set(prefix+"addStats.[]", "1")
		data.Set(prefix+"addStats.0.key", key)
		data.Set(prefix+"addStats.0.value", strconv.Itoa(rand.IntN(1000)))
		data.Set(prefix+"owner", strconv.FormatInt(p.UserID, 10))
		data.Set(prefix+"name", p.Name)
		data.Set(prefix+"rank", strconv.Itoa(i+1))
	}

	h.respond(ctx, pkt, con, data)
	return nil
}
