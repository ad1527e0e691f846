package cmd

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"go.uber.org/zap"

	"github.com/luma/lantern/client"
	"github.com/luma/lantern/protocol"
	"github.com/luma/lantern/storage"
)

const requestTimeout = 10 * time.Second

// API is the part of *client.Conn served over HTTP.
type API interface {
	IsConnected() bool
	PendingReplies() int
	FireAndForgetQuery(q protocol.Query, p client.Priority)
	GetResultOfQuery(ctx context.Context, q protocol.Query, p client.Priority) (protocol.Reply, error)
	Sync(ctx context.Context) error
	SuppressQueryKind(p client.Priority)
	UnsuppressQueryKind(p client.Priority)
	WritePrometheus(w io.Writer)
}

func setupRouter(debugHTTP bool, log *zap.Logger) *gin.Engine {
	gin.DisableConsoleColor()
	if !debugHTTP {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	// Logs all requests, like a combined access and error log, in UTC
	r.Use(ginzap.GinzapWithConfig(log, &ginzap.Config{
		TimeFormat: time.RFC3339,
		UTC:        true,
		SkipPaths:  []string{"/ping", "/metrics"},
	}))

	// Logs all panic to error log
	//   - stack means whether output the stack info.
	r.Use(ginzap.RecoveryWithZap(log, true))

	return r
}

func registerRoutes(r *gin.Engine, conn API, status storage.Store) {
	r.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, "pong")
	})

	r.GET("/status", func(c *gin.Context) {
		doc, err := sjson.SetBytes(status.Snapshot(), "connected", conn.IsConnected())
		if err == nil {
			doc, err = sjson.SetBytes(doc, "pending_replies", conn.PendingReplies())
		}
		if err != nil {
			c.AbortWithError(http.StatusInternalServerError, err)
			return
		}

		c.Data(http.StatusOK, "application/json", doc)
	})

	r.GET("/metrics", func(c *gin.Context) {
		c.Header("Content-Type", "text/plain; version=0.0.4")
		c.Status(http.StatusOK)
		conn.WritePrometheus(c.Writer)
	})

	r.POST("/query", func(c *gin.Context) {
		body, err := c.GetRawData()
		if err != nil {
			c.AbortWithError(http.StatusBadRequest, err)
			return
		}

		q, p, async, err := parseQueryRequest(body)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		if async {
			conn.FireAndForgetQuery(q, p)
			c.Status(http.StatusAccepted)
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
		defer cancel()

		reply, err := conn.GetResultOfQuery(ctx, q, p)
		if err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}

		doc, err := replyJSON(reply)
		if err != nil {
			c.AbortWithError(http.StatusInternalServerError, err)
			return
		}

		c.Data(http.StatusOK, "application/json", doc)
	})

	r.POST("/sync", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
		defer cancel()

		if err := conn.Sync(ctx); err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}

		c.Status(http.StatusNoContent)
	})

	r.POST("/suppress/:priority", func(c *gin.Context) {
		p, err := client.ParsePriority(c.Param("priority"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		conn.SuppressQueryKind(p)
		c.Status(http.StatusNoContent)
	})

	r.DELETE("/suppress/:priority", func(c *gin.Context) {
		p, err := client.ParsePriority(c.Param("priority"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		conn.UnsuppressQueryKind(p)
		c.Status(http.StatusNoContent)
	})
}

var errNoArgs = errors.New("args must be a non empty array of strings")

// parseQueryRequest reads {"args": ["SET", "k", "v"], "priority": "state", "async": false}
func parseQueryRequest(body []byte) (protocol.Query, client.Priority, bool, error) {
	if !gjson.ValidBytes(body) {
		return nil, 0, false, errors.New("body is not valid JSON")
	}

	req := gjson.ParseBytes(body)

	args := req.Get("args")
	if !args.IsArray() || len(args.Array()) == 0 {
		return nil, 0, false, errNoArgs
	}

	q := make(protocol.Query, 0, len(args.Array()))
	for _, arg := range args.Array() {
		if arg.Type != gjson.String {
			return nil, 0, false, errNoArgs
		}
		q = append(q, []byte(arg.String()))
	}

	p := client.State
	if prio := req.Get("priority"); prio.Exists() {
		var err error
		if p, err = client.ParsePriority(prio.String()); err != nil {
			return nil, 0, false, err
		}
	}

	return q, p, req.Get("async").Bool(), nil
}

// replyJSON renders a reply as {"type": "bulk string", "value": ...}
func replyJSON(reply protocol.Reply) ([]byte, error) {
	doc, err := sjson.SetBytes([]byte("{}"), "type", reply.Type.String())
	if err != nil {
		return nil, err
	}

	switch reply.Type {
	case protocol.ReplyInteger:
		return sjson.SetBytes(doc, "value", reply.Int)

	case protocol.ReplyNil:
		return sjson.SetRawBytes(doc, "value", []byte("null"))

	case protocol.ReplyArray:
		doc, err = sjson.SetRawBytes(doc, "value", []byte("[]"))
		for _, e := range reply.Elements {
			if err != nil {
				return nil, err
			}

			var element []byte
			if element, err = replyJSON(e); err == nil {
				doc, err = sjson.SetRawBytes(doc, "value.-1", element)
			}
		}
		return doc, err

	default:
		return sjson.SetBytes(doc, "value", string(reply.Str))
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, client.ErrDisconnected), errors.Is(err, client.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
