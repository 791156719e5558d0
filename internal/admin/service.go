// Package admin serves the local administration API on the instance's Unix
// socket and provides the matching client.
package admin

import (
	"context"
	"encoding/json"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/rohitpatil2845/BAATKANE/internal/apperr"
	"github.com/rohitpatil2845/BAATKANE/internal/bus"
	"github.com/rohitpatil2845/BAATKANE/internal/realtime"
	"github.com/rohitpatil2845/BAATKANE/internal/store"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// Issuer mints bearer tokens.
type Issuer interface {
	Issue(userID string) (string, time.Time, error)
}

// Welcomer sets up a new user's chat with the bot.
type Welcomer interface {
	EnsureBotChat(ctx context.Context, u store.User) (*store.Chat, bool, error)
}

// Info is static daemon information reported by GetStatus.
type Info struct {
	Instance   string
	ListenAddr string
}

// Service implements AdminServer.
type Service struct {
	info      Info
	startedAt time.Time
	db        *store.DB
	hub       *realtime.Hub
	issuer    Issuer
	welcomer  Welcomer // may be nil
	bus       *bus.Bus
	logger    *zap.Logger
}

// NewService creates the admin service.
func NewService(info Info, db *store.DB, hub *realtime.Hub, issuer Issuer, welcomer Welcomer, b *bus.Bus, logger *zap.Logger) *Service {
	return &Service{
		info:      info,
		startedAt: time.Now(),
		db:        db,
		hub:       hub,
		issuer:    issuer,
		welcomer:  welcomer,
		bus:       b,
		logger:    logger,
	}
}

func (s *Service) GetStatus(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	st := s.bus.Stats()
	resp := map[string]any{
		"instance":        s.info.Instance,
		"listen_addr":     s.info.ListenAddr,
		"pid":             os.Getpid(),
		"started_at_ms":   s.startedAt.UnixMilli(),
		"uptime_ms":       time.Since(s.startedAt).Milliseconds(),
		"online":          s.hub.Registry.Len(),
		"bus_subscribers": st.Subscribers,
		"bus_published":   st.Published,
		"bus_dropped":     st.Dropped,
	}
	if users, err := s.db.ListUsers(ctx); err == nil {
		resp["users"] = len(users)
	}
	if v, err := s.db.SchemaVersion(); err == nil {
		resp["schema_version"] = v
	}
	return toStruct(resp)
}

func (s *Service) ListOnline(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	online := s.hub.Registry.Online()
	slices.Sort(online)
	users := make([]any, 0, len(online))
	for _, id := range online {
		users = append(users, id)
	}
	return structpb.NewStruct(map[string]any{"users": users})
}

func (s *Service) CreateUser(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	fields := in.AsMap()
	u := &store.User{
		Name:     strings.TrimSpace(stringField(fields, "name")),
		Username: strings.TrimSpace(stringField(fields, "username")),
		Avatar:   stringField(fields, "avatar"),
		Bio:      stringField(fields, "bio"),
	}
	if u.Username == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "username is required")
	}
	if u.Name == "" {
		u.Name = u.Username
	}
	if err := s.db.CreateUser(ctx, u); err != nil {
		return nil, toStatus(err)
	}
	s.logger.Info("user created", zap.String("user_id", u.ID), zap.String("username", u.Username))

	resp := map[string]any{"id": u.ID, "name": u.Name, "username": u.Username}
	if s.welcomer != nil {
		c, _, err := s.welcomer.EnsureBotChat(ctx, *u)
		if err != nil {
			s.logger.Warn("create bot chat", zap.String("user_id", u.ID), zap.Error(err))
		} else {
			resp["bot_chat_id"] = c.ID
		}
	}
	return structpb.NewStruct(resp)
}

func (s *Service) IssueToken(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	userID := stringField(in.AsMap(), "user_id")
	if userID == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "user_id is required")
	}
	if _, err := s.db.GetUser(ctx, userID); err != nil {
		return nil, toStatus(err)
	}
	token, exp, err := s.issuer.Issue(userID)
	if err != nil {
		return nil, toStatus(err)
	}
	return structpb.NewStruct(map[string]any{
		"token":         token,
		"expires_at_ms": float64(exp.UnixMilli()),
	})
}

// WatchEvents streams bus events whose kind starts with the request's
// "prefix" field (all events when empty) until the client goes away.
func (s *Service) WatchEvents(in *structpb.Struct, stream grpc.ServerStream) error {
	prefix := stringField(in.AsMap(), "prefix")
	ch, unsub := s.bus.Subscribe(prefix, 256)
	defer unsub()

	for {
		select {
		case evt, ok := <-ch:
			if !ok {
				return nil
			}
			msg, err := eventToStruct(evt)
			if err != nil {
				s.logger.Warn("encode event", zap.String("kind", evt.Kind), zap.Error(err))
				continue
			}
			if err := stream.SendMsg(msg); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return nil
		}
	}
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

// toStruct converts through JSON so integer and struct values become the
// float64 and map forms structpb accepts.
func toStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return structpb.NewStruct(m)
}

func eventToStruct(evt bus.Event) (*structpb.Struct, error) {
	var payload any
	if evt.Payload != nil {
		b, err := json.Marshal(evt.Payload)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(b, &payload); err != nil {
			return nil, err
		}
	}
	return structpb.NewStruct(map[string]any{
		"kind":         evt.Kind,
		"timestamp_ms": float64(evt.Timestamp.UnixMilli()),
		"payload":      payload,
	})
}

// toStatus maps a classified error to a gRPC status.
func toStatus(err error) error {
	code := codes.Internal
	switch apperr.KindOf(err) {
	case apperr.Authentication:
		code = codes.Unauthenticated
	case apperr.Authorization:
		code = codes.PermissionDenied
	case apperr.Validation:
		code = codes.InvalidArgument
	case apperr.NotFound:
		code = codes.NotFound
	case apperr.Conflict:
		code = codes.AlreadyExists
	case apperr.External, apperr.Transient:
		code = codes.Unavailable
	}
	return grpcstatus.Error(code, apperr.MessageOf(err))
}
