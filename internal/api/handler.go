package api

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/hiro/poi_service/pkg/models"
)

// statusPartial is the wire status for a batch that completed without errors
// but where some terms yielded no results. Inherited from the legacy contract.
const statusPartial = 199

type Service interface {
	Index(ctx context.Context, batch models.IndexBatch) (*models.IndexResult, error)
	Delete(ctx context.Context, ids []string) error
	Ranked(ctx context.Context, params models.RankedParams) ([]models.RankedRow, error)
	Centroid(ctx context.Context, topRank int, category, alias string) (*models.Centroid, error)
	Location(ctx context.Context, id string) (*models.Location, error)
}

type Handler struct {
	svc    Service
	logger *zap.Logger
}

func NewHandler(svc Service, logger *zap.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// Handle returns the gin handler bound to one operation.
func (h *Handler) Handle(op Op) gin.HandlerFunc {
	switch op {
	case OpIndex:
		return h.Index
	case OpDelete:
		return h.Delete
	default:
		panic(fmt.Sprintf("api: no handler for op %d", op))
	}
}

func RegisterRoutes(r *gin.Engine, h *Handler) {
	// Legacy custom-verb surface: op name as the HTTP method on the root path.
	for _, verb := range []string{"INDEX", "DELETE"} {
		op, ok := ParseOp(verb)
		if !ok {
			panic(fmt.Sprintf("api: unroutable verb %q", verb))
		}
		r.Handle(verb, "/", h.Handle(op))
	}

	v1 := r.Group("/v1")
	{
		v1.POST("/index", h.Handle(OpIndex))
		v1.POST("/delete", h.Handle(OpDelete))
		v1.GET("/pois", h.Ranked)
		v1.GET("/pois/centroid", h.Centroid)
		v1.GET("/locations/:id", h.Location)
	}
}

// Index: body is a JSON object mapping search term -> ordered message list.
func (h *Handler) Index(c *gin.Context) {
	var batch models.IndexBatch
	if err := c.ShouldBindJSON(&batch); err != nil {
		c.String(http.StatusBadRequest, "INDEX request body is malformed: %v", err)
		return
	}

	res, err := h.svc.Index(c.Request.Context(), batch)
	if err != nil {
		h.logger.Error("index failed", zap.Error(err))
		c.String(http.StatusInternalServerError, "INDEX request could not be processed.")
		return
	}

	if len(res.EmptyTerms) > 0 {
		quoted := make([]string, len(res.EmptyTerms))
		for i, t := range res.EmptyTerms {
			quoted[i] = strconv.Quote(t)
		}
		writePartial(c, fmt.Sprintf(
			"Warning! INDEX request processed, but the following terms yielded no results:\n%s",
			strings.Join(quoted, ",")))
		return
	}
	c.String(http.StatusOK, "INDEX request successfully processed.")
}

// Delete: body is a JSON array of location identifiers.
func (h *Handler) Delete(c *gin.Context) {
	var ids []string
	if err := c.ShouldBindJSON(&ids); err != nil {
		c.String(http.StatusBadRequest, "DELETE request body is malformed: %v", err)
		return
	}

	if err := h.svc.Delete(c.Request.Context(), ids); err != nil {
		h.logger.Error("delete failed", zap.Error(err))
		c.String(http.StatusInternalServerError, "DELETE request could not be processed!")
		return
	}
	c.String(http.StatusOK, "DELETE request successfully processed.")
}

// Ranked: GET /v1/pois?limit=&offset=&category=&alias=
func (h *Handler) Ranked(c *gin.Context) {
	params := models.RankedParams{
		Limit:    parseLimit(c.Query("limit")),
		Offset:   parseOffset(c.Query("offset")),
		Category: c.Query("category"),
		Alias:    c.Query("alias"),
	}

	rows, err := h.svc.Ranked(c.Request.Context(), params)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"meta": gin.H{
			"count":  len(rows),
			"limit":  params.Limit,
			"offset": params.Offset,
		},
		"data": rows,
	})
}

// Centroid: GET /v1/pois/centroid?rank=&category=&alias=
func (h *Handler) Centroid(c *gin.Context) {
	topRank := parseIntDefault(c.Query("rank"), 3)
	if topRank < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "rank must be positive"})
		return
	}

	centroid, err := h.svc.Centroid(c.Request.Context(), topRank, c.Query("category"), c.Query("alias"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if centroid == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no rows in view"})
		return
	}
	c.JSON(http.StatusOK, centroid)
}

// Location: GET /v1/locations/:id, a direct lookup that ignores the blacklist.
func (h *Handler) Location(c *gin.Context) {
	id := c.Param("id")
	loc, err := h.svc.Location(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if loc == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown location"})
		return
	}
	c.JSON(http.StatusOK, loc)
}

// writePartial sends the 199 warning as the final status of the exchange.
// net/http renders 1xx codes written through ResponseWriter as interim
// responses followed by a final 200, which would make partial success
// indistinguishable from full success by status; the response is therefore
// written raw over the hijacked connection, Connection: close.
func writePartial(c *gin.Context, body string) {
	conn, buf, err := hijack(c.Writer)
	if err != nil {
		// Transports without hijack support (notably test recorders) still
		// see the status through the plain writer.
		c.String(statusPartial, body)
		return
	}
	defer conn.Close()

	fmt.Fprintf(buf, "HTTP/1.1 %d Warning\r\n", statusPartial)
	fmt.Fprintf(buf, "Content-Type: text/plain; charset=utf-8\r\n")
	fmt.Fprintf(buf, "Content-Length: %d\r\n", len(body))
	fmt.Fprintf(buf, "Connection: close\r\n\r\n")
	buf.WriteString(body)
	buf.Flush()
	c.Abort()
}

// hijack takes over the underlying connection. gin's writer asserts the
// wrapped ResponseWriter is a Hijacker and panics when it is not, so the
// panic is converted into the error the caller already handles.
func hijack(w gin.ResponseWriter) (conn net.Conn, buf *bufio.ReadWriter, err error) {
	defer func() {
		if r := recover(); r != nil {
			conn, buf = nil, nil
			err = fmt.Errorf("hijack unsupported: %v", r)
		}
	}()
	hj, ok := interface{}(w).(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("hijack unsupported")
	}
	return hj.Hijack()
}

func parseIntDefault(s string, d int) int {
	if s == "" {
		return d
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return d
	}
	return v
}

// parseLimit and parseOffset clamp the pagination window so the response meta
// always echoes the values actually applied by the query.
func parseLimit(s string) int {
	l, err := strconv.Atoi(s)
	if err != nil || l <= 0 {
		return 50
	}
	if l > 200 {
		return 200
	}
	return l
}

func parseOffset(s string) int {
	o, err := strconv.Atoi(s)
	if err != nil || o < 0 {
		return 0
	}
	return o
}
