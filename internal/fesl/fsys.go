package fesl

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/mordorwide/plasma/internal/protocol"
)

// Keepalive intervals. The client answers each probe, which re-arms the
// next one.
const (
	memCheckInterval = 120 * time.Second
	pingInterval     = 60 * time.Second
)

const (
	domainPartition    = "eadm"
	subDomainPartition = "eadm"
)

const defaultPingSites = `[{"name":"ping0","addr":"theater.mordorwi.de","type":"0"}]`

func (h *Handler) fsysHello(ctx context.Context, pkt *protocol.Packet, con protocol.Descriptor) error {
	// clientType is "" for a game client and "server" for a dedicated host.
	_ = pkt.Data.Get("clientType")

	// clientString is <gameId>-<dev>-<platform>.
	if parts := strings.Split(pkt.Data.Get("clientString"), "-"); len(parts) != 3 {
		return fmt.Errorf("malformed clientString %q", pkt.Data.Get("clientString"))
	}

	data := protocol.DictOf(
		"TXN", "Hello",
		"curTime", time.Now().UTC().Format("Jan-02-2006 15:04:05 UTC"),
		"activityTimeoutSecs", "0",
		"messengerIp", h.messengerHost,
		"messengerPort", "0",
		"theaterIp", h.theaterHost,
		"theaterPort", strconv.Itoa(h.theaterPort),
		"domainPartition.domain", domainPartition,
		"domainPartition.subDomain", subDomainPartition,
	)
	h.respond(ctx, pkt, con, data)

	h.sendMemCheck(ctx, con, 0)
	h.sendPing(ctx, con, 0)
	return nil
}

func (h *Handler) fsysGoodbye(ctx context.Context, pkt *protocol.Packet, con protocol.Descriptor) error {
	h.log.Info("client said goodbye",
		"con", con.String(),
		"reason", pkt.Data.Get("reason"),
		"message", pkt.Data.Get("message"))
	h.respond(ctx, pkt, con, protocol.NewDict())
	return nil
}

func (h *Handler) fsysGetPingSites(ctx context.Context, pkt *protocol.Packet, con protocol.Descriptor) error {
	raw, err := h.store.Config.GetDefault(ctx, "GetPingSites_PingSites", defaultPingSites)
	if err != nil {
		return err
	}
	sites := gjson.Parse(raw).Array()

	data := protocol.DictOf("TXN", "GetPingSites")
	data.Set("pingSites.[]", strconv.Itoa(len(sites)))
	for i, site := range sites {
		prefix := fmt.Sprintf("pingSites.%d.", i)
		data.Set(prefix+"addr", site.Get("addr").String())
		data.Set(prefix+"type", site.Get("type").String())
		data.Set(prefix+"name", site.Get("name").String())
	}

	minSites, err := h.store.Config.GetInt(ctx, "GetPingSites_minPingSitesToPing", 0)
	if err != nil {
		return err
	}
	if minSites <= 0 || minSites > len(sites) {
		minSites = len(sites)
	}
	data.Set("minPingSitesToPing", strconv.Itoa(minSites))

	h.respond(ctx, pkt, con, data)
	return nil
}

// sendMemCheck schedules a MemCheck probe. The salt is fresh randomness
// per probe; the client mixes it into its reply.
func (h *Handler) sendMemCheck(ctx context.Context, con protocol.Descriptor, delay time.Duration) {
	probe := protocol.NewPacket(protocol.CategoryFsys, protocol.ModeSinglePacketRequest, 0,
		protocol.DictOf(
			"TXN", "MemCheck",
			"memcheck.[]", "0",
			"type", "0",
			"salt", strconv.Itoa(1+rand.IntN(9)),
		))
	h.submit.Submit(ctx, probe, con, delay)
}

// sendPing schedules a Ping probe.
func (h *Handler) sendPing(ctx context.Context, con protocol.Descriptor, delay time.Duration) {
	probe := protocol.NewPacket(protocol.CategoryFsys, protocol.ModeSinglePacketRequest, 0,
		protocol.DictOf("TXN", "Ping"))
	h.submit.Submit(ctx, probe, con, delay)
}
