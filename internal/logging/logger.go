// Package logging provides structured logging utilities.
package logging

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// RequestIDHeader carries the request identifier over HTTP. The same name,
// lower-cased, is read from gRPC metadata.
const RequestIDHeader = "X-Request-ID"

// healthProbes are logged at debug level so liveness checks do not flood logs.
var healthProbes = map[string]bool{
	"/health":                      true,
	"/metrics":                     true,
	"/grpc.health.v1.Health/Check": true,
	"/grpc.health.v1.Health/Watch": true,
	"/grpc.health.v1.Health/List":  true,
}

// Options configures New.
type Options struct {
	Service string
	// Level is a zerolog level name; unknown names mean info.
	Level string
	// Pretty switches to human-readable console output.
	Pretty bool
	// Out defaults to os.Stdout.
	Out io.Writer
}

// New creates the service logger.
func New(opts Options) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(opts.Level))
	if err != nil || opts.Level == "" {
		lvl = zerolog.InfoLevel
	}

	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	if opts.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	return zerolog.New(out).
		Level(lvl).
		With().
		Timestamp().
		Str("service", opts.Service).
		Logger()
}

// WithLogger stores logger in ctx.
func WithLogger(ctx context.Context, logger zerolog.Logger) context.Context {
	return logger.WithContext(ctx)
}

// FromContext returns the logger stored in ctx, or fallback when there is none.
func FromContext(ctx context.Context, fallback zerolog.Logger) zerolog.Logger {
	l := zerolog.Ctx(ctx)
	if l.GetLevel() == zerolog.Disabled {
		return fallback
	}
	return *l
}

// RequestLogger returns a Gin middleware that scopes a logger to each request
// and logs the request once it completes. A missing X-Request-ID is generated
// and echoed in the response.
func RequestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header(RequestIDHeader, requestID)

		scoped := logger.With().Str("requestId", requestID).Logger()
		c.Request = c.Request.WithContext(WithLogger(c.Request.Context(), scoped))

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		statusCode := c.Writer.Status()

		var event *zerolog.Event
		switch {
		case statusCode >= 500:
			event = scoped.Error()
		case statusCode >= 400:
			event = scoped.Warn()
		case healthProbes[c.Request.URL.Path]:
			event = scoped.Debug()
		default:
			event = scoped.Info()
		}

		event.
			Str("type", "http_request").
			Str("method", c.Request.Method).
			Str("route", route).
			Str("path", c.Request.URL.Path).
			Str("query", c.Request.URL.RawQuery).
			Int("status", statusCode).
			Str("clientIp", c.ClientIP()).
			Dur("latency", time.Since(start)).
			Int("bodySize", c.Writer.Size())
		if len(c.Errors) > 0 {
			event.Str("error", c.Errors.String())
		}
		event.Msg("HTTP request")
	}
}

// UnaryServerLogger returns a gRPC unary interceptor that scopes a logger to
// each call and logs it on completion.
func UnaryServerLogger(logger zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		scoped := grpcScoped(ctx, logger, info.FullMethod)

		resp, err := handler(WithLogger(ctx, scoped), req)

		grpcEvent(scoped, info.FullMethod, err).
			Str("type", "grpc_request").
			Dur("latency", time.Since(start)).
			Msg("gRPC request")
		return resp, err
	}
}

// StreamServerLogger is the streaming counterpart of UnaryServerLogger.
func StreamServerLogger(logger zerolog.Logger) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		scoped := grpcScoped(ss.Context(), logger, info.FullMethod)

		err := handler(srv, &scopedStream{ServerStream: ss, ctx: WithLogger(ss.Context(), scoped)})

		grpcEvent(scoped, info.FullMethod, err).
			Str("type", "grpc_stream").
			Bool("clientStream", info.IsClientStream).
			Bool("serverStream", info.IsServerStream).
			Dur("latency", time.Since(start)).
			Msg("gRPC stream")
		return err
	}
}

type scopedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *scopedStream) Context() context.Context { return s.ctx }

func grpcScoped(ctx context.Context, logger zerolog.Logger, method string) zerolog.Logger {
	lc := logger.With().Str("method", method)
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if ids := md.Get(strings.ToLower(RequestIDHeader)); len(ids) > 0 && ids[0] != "" {
			lc = lc.Str("requestId", ids[0])
		}
	}
	return lc.Logger()
}

func grpcEvent(logger zerolog.Logger, method string, err error) *zerolog.Event {
	code := status.Code(err)

	var event *zerolog.Event
	switch {
	case code == codes.OK && healthProbes[method]:
		event = logger.Debug()
	case code == codes.OK:
		event = logger.Info()
	case code == codes.Canceled || code == codes.NotFound || code == codes.InvalidArgument:
		event = logger.Warn()
	default:
		event = logger.Error()
	}
	event.Str("code", code.String())
	if err != nil {
		event.Err(err)
	}
	return event
}

// RepositoryLogger scopes logger to one repository operation on an entity.
func RepositoryLogger(logger zerolog.Logger, entity string, operation string) zerolog.Logger {
	return logger.With().
		Str("entity", entity).
		Str("operation", operation).
		Logger()
}

// QueryLogger scopes logger to a declared query.
func QueryLogger(logger zerolog.Logger, entity string, signature string) zerolog.Logger {
	return logger.With().
		Str("entity", entity).
		Str("query", signature).
		Logger()
}
