package relay

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/llmur/llmur/internal/provider"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

var (
	dataPrefix = []byte("data: ")
	doneFrame  = []byte("data: [DONE]\n\n")
)

func startEventStream(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()
}

// relayChunks writes canonical chunks as SSE frames and always closes with [DONE].
func (h *Handler) relayChunks(c *gin.Context, cl *call, stream provider.ChunkStream, includeUsage bool) {
	defer func() { _ = stream.Close() }()
	ctx := c.Request.Context()
	startEventStream(c)

	var (
		u       provider.Usage
		message string
	)
	for {
		if ctx.Err() != nil {
			message = "client disconnected"
			break
		}
		chunk, errNext := stream.Next()
		if errors.Is(errNext, io.EOF) {
			break
		}
		if errNext != nil {
			if ctx.Err() != nil {
				message = "client disconnected"
				break
			}
			message = errNext.Error()
			log.WithError(errNext).WithField("deployment", cl.graph.Deployment.Name).Warn("relay: upstream stream interrupted")
			if body, errMarshal := jsonError(errNext); errMarshal == nil {
				writeFrame(c, body)
			}
			break
		}
		if seen, ok := provider.ExtractUsage(chunk); ok {
			u = seen
		}
		out, keep := provider.FilterUsage(chunk, includeUsage)
		if !keep {
			continue
		}
		if !writeFrame(c, out) {
			message = "client disconnected"
			break
		}
	}
	if ctx.Err() == nil {
		_, _ = c.Writer.Write(doneFrame)
		c.Writer.Flush()
	} else if message == "" {
		message = "client disconnected"
	}
	h.finish(cl, http.StatusOK, message, u)
}

// relayEvents copies a Responses API event stream verbatim.
func (h *Handler) relayEvents(c *gin.Context, cl *call, body io.Reader) {
	ctx := c.Request.Context()
	startEventStream(c)

	var (
		u       provider.Usage
		message string
	)
	reader := bufio.NewReader(body)
	for {
		line, errRead := reader.ReadBytes('\n')
		if len(line) > 0 {
			if data, ok := bytes.CutPrefix(bytes.TrimRight(line, "\r\n"), dataPrefix); ok {
				if completed := gjson.GetBytes(data, "response"); completed.IsObject() {
					if seen, found := provider.ExtractUsage([]byte(completed.Raw)); found {
						u = seen
					}
				}
			}
			if _, errWrite := c.Writer.Write(line); errWrite != nil {
				message = "client disconnected"
				break
			}
			if len(bytes.TrimSpace(line)) == 0 {
				c.Writer.Flush()
			}
		}
		if errRead != nil {
			if !errors.Is(errRead, io.EOF) && ctx.Err() == nil {
				message = errRead.Error()
				log.WithError(errRead).WithField("deployment", cl.graph.Deployment.Name).Warn("relay: upstream event stream interrupted")
			}
			break
		}
		if ctx.Err() != nil {
			message = "client disconnected"
			break
		}
	}
	c.Writer.Flush()
	h.finish(cl, http.StatusOK, message, u)
}

func writeFrame(c *gin.Context, payload []byte) bool {
	if _, err := c.Writer.Write(dataPrefix); err != nil {
		return false
	}
	if _, err := c.Writer.Write(payload); err != nil {
		return false
	}
	if _, err := c.Writer.Write([]byte("\n\n")); err != nil {
		return false
	}
	c.Writer.Flush()
	return true
}
