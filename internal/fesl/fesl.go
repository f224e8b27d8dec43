// Package fesl implements the account-service side of the backend: the
// transaction-based protocol the game speaks before it ever reaches the
// matchmaking service. Requests carry a TXN name; responses echo it.
package fesl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mordorwide/plasma/internal/auth"
	"github.com/mordorwide/plasma/internal/config"
	"github.com/mordorwide/plasma/internal/model"
	"github.com/mordorwide/plasma/internal/protocol"
	"github.com/mordorwide/plasma/internal/session"
)

// Submitter delivers outbound packets without blocking the handler.
type Submitter interface {
	Submit(ctx context.Context, pkt *protocol.Packet, con protocol.Descriptor, delay time.Duration)
}

// Handler serves the account-service packet families.
type Handler struct {
	store    *session.Store
	sessions *session.Manager
	submit   Submitter
	log      *slog.Logger

	secretKey     string
	theaterHost   string
	theaterPort   int
	messengerHost string
}

// New creates the handler.
func New(sessions *session.Manager, submit Submitter, cfg config.Server, log *slog.Logger) *Handler {
	return &Handler{
		store:         sessions.Store(),
		sessions:      sessions,
		submit:        submit,
		log:           log,
		secretKey:     cfg.SecretKey,
		theaterHost:   cfg.TheaterHost,
		theaterPort:   cfg.TheaterPort,
		messengerHost: cfg.MessengerHost,
	}
}

// Service tags the handler for the transport layer.
func (h *Handler) Service() protocol.Service { return protocol.ServiceFesl }

// ConnectionClosed tears down the sessions owned by the dead connection.
func (h *Handler) ConnectionClosed(ctx context.Context, con protocol.Descriptor) {
	if con.Proto != protocol.ProtoTCP || con.Service != protocol.ServiceFesl {
		return
	}
	h.sessions.ConnectionClosed(ctx, con)
}

// HandlePacket routes one decoded packet. Unknown transactions are
// logged and ignored so a client probing newer protocol revisions does
// not lose its connection.
func (h *Handler) HandlePacket(ctx context.Context, pkt *protocol.Packet, con protocol.Descriptor) error {
	txn, ok := pkt.Data.Lookup("TXN")
	if !ok {
		h.log.Debug("packet without TXN", "con", con.String(), "packet", pkt)
		return nil
	}

	switch pkt.Mode {
	case protocol.ModeSinglePacketRequest, protocol.ModeMultiPacketRequest:
		return h.handleRequest(ctx, pkt, con, txn)
	case protocol.ModeSinglePacketResponse, protocol.ModeMultiPacketResponse:
		return h.handleResponse(ctx, pkt, con, txn)
	default:
		h.log.Debug("unhandled packet mode", "con", con.String(), "packet", pkt)
		return nil
	}
}

func (h *Handler) handleRequest(ctx context.Context, pkt *protocol.Packet, con protocol.Descriptor, txn string) error {
	switch pkt.Category {
	case protocol.CategoryFsys:
		switch txn {
		case "Hello":
			return h.fsysHello(ctx, pkt, con)
		case "Goodbye":
			return h.fsysGoodbye(ctx, pkt, con)
		case "GetPingSites":
			return h.fsysGetPingSites(ctx, pkt, con)
		}
	case protocol.CategoryAcct:
		switch txn {
		case "GetCountryList":
			return h.acctGetCountryList(ctx, pkt, con)
		case "NuGetTos":
			return h.acctNuGetTos(ctx, pkt, con)
		case "NuAddAccount":
			return h.acctNuAddAccount(ctx, pkt, con)
		case "NuLogin":
			return h.acctNuLogin(ctx, pkt, con)
		case "NuAddPersona":
			return h.acctNuAddPersona(ctx, pkt, con)
		case "NuGetPersonas":
			return h.acctNuGetPersonas(ctx, pkt, con)
		case "NuLoginPersona":
			return h.acctNuLoginPersona(ctx, pkt, con)
		case "NuSuggestPersonas":
			return h.acctNuSuggestPersonas(ctx, pkt, con)
		case "NuEntitleGame":
			return h.acctNuEntitleGame(ctx, pkt, con)
		case "NuPS3Login":
			return h.acctNuPS3Login(ctx, pkt, con)
		case "NuXBL360Login":
			return h.acctNuXBL360Login(ctx, pkt, con)
		}
	case protocol.CategoryAsso:
		switch txn {
		case "GetAssociations":
			return h.assoGetAssociations(ctx, pkt, con)
		case "AddAssociations":
			return h.assoAddAssociations(ctx, pkt, con)
		}
	case protocol.CategoryPres:
		switch txn {
		case "SetPresenceStatus":
			return h.presSetPresenceStatus(ctx, pkt, con)
		}
	case protocol.CategoryRank:
		switch txn {
		case "GetTopNAndMe":
			return h.rankGetTopNAndMe(ctx, pkt, con)
		}
	}
	h.log.Debug("unhandled request", "con", con.String(), "category", pkt.Category, "txn", txn)
	return nil
}

func (h *Handler) handleResponse(ctx context.Context, pkt *protocol.Packet, con protocol.Descriptor, txn string) error {
	if pkt.Category == protocol.CategoryFsys {
		switch txn {
		case "MemCheck":
			h.sendMemCheck(ctx, con, memCheckInterval)
			return nil
		case "Ping":
			h.sendPing(ctx, con, pingInterval)
			return nil
		}
	}
	h.log.Debug("unhandled response", "con", con.String(), "category", pkt.Category, "txn", txn)
	return nil
}

// respond submits the regular response to a request, echoing its id.
func (h *Handler) respond(ctx context.Context, req *protocol.Packet, con protocol.Descriptor, data *protocol.Dict) {
	resp := protocol.NewPacket(req.Category, protocol.ResponseMode(req.Mode), req.ID, data)
	h.submit.Submit(ctx, resp, con, 0)
}

// fail submits the error packet for a failed request.
func (h *Handler) fail(ctx context.Context, req *protocol.Packet, con protocol.Descriptor, code int) {
	h.submit.Submit(ctx, protocol.ErrorPacket(req, code, ""), con, 0)
}

var errNoCredentials = errors.New("no credentials in packet")

// credentials pulls the login identity out of a packet: either a plain
// nuid/password pair or the relogin token minted by an earlier login.
func (h *Handler) credentials(pkt *protocol.Packet) (session.Credentials, error) {
	if pkt.Data.Has("nuid") && pkt.Data.Has("password") {
		return session.Credentials{
			Email:    pkt.Data.Get("nuid"),
			Password: pkt.Data.Get("password"),
		}, nil
	}
	if token, ok := pkt.Data.Lookup("encryptedInfo"); ok {
		email, hashed, err := auth.ParseCredentialToken(token, h.secretKey)
		if err != nil {
			return session.Credentials{}, fmt.Errorf("decoding relogin token: %w", err)
		}
		return session.Credentials{Email: email, Password: hashed, Hashed: true}, nil
	}
	return session.Credentials{}, errNoCredentials
}

// authenticate validates the packet's credentials and makes con the
// account's active session.
func (h *Handler) authenticate(ctx context.Context, pkt *protocol.Packet, con protocol.Descriptor) (*model.Session, error) {
	creds, err := h.credentials(pkt)
	if err != nil {
		return nil, err
	}
	account, err := h.sessions.ValidateCredentials(ctx, creds)
	if err != nil {
		return nil, err
	}
	return h.sessions.Activate(ctx, con, account.LobbyKey, account.ID)
}

// loginErrorCode maps a credential failure to the code the client shows.
func loginErrorCode(err error) int {
	switch {
	case errors.Is(err, session.ErrUserNotFound):
		return protocol.CodeEmailNotFound
	case errors.Is(err, session.ErrInvalidPassword):
		return protocol.CodeInvalidPassword
	case errors.Is(err, session.ErrUserBanned):
		return protocol.CodeBanned
	default:
		return protocol.CodeAuthFail
	}
}
