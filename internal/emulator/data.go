package emulator

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ratlabs/vecstore/internal/vectorstore"
)

// podCapacity approximates how many vectors one x1 pod of each family holds.
var podCapacity = map[vectorstore.PodFamily]int64{
	vectorstore.PodP1: 1_000_000,
	vectorstore.PodP2: 1_000_000,
	vectorstore.PodS1: 5_000_000,
}

var sizeFactor = map[vectorstore.PodSize]int64{
	vectorstore.SizeX1: 1,
	vectorstore.SizeX2: 2,
	vectorstore.SizeX4: 4,
	vectorstore.SizeX8: 8,
}

// serving returns the index if it accepts data-plane calls.
func (s *Server) serving(ctx context.Context, name string) (indexRow, error) {
	row, err := s.store.index(ctx, name)
	if err != nil {
		return row, err
	}
	if !row.state.Serving() {
		return row, errorf(http.StatusServiceUnavailable, "index %s is %s", name, row.state)
	}
	if row.spec.Replicas == 0 {
		return row, errorf(http.StatusServiceUnavailable, "index %s has no replicas", name)
	}
	return row, nil
}

func parseFilter(raw json.RawMessage) (vectorstore.Filter, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	f, err := vectorstore.ParseFilter(raw)
	if err != nil {
		return nil, errorf(http.StatusBadRequest, "invalid filter: %v", err)
	}
	return f, nil
}

func checkDimension(id string, values []float32, dim int) error {
	if len(values) != dim {
		return errorf(http.StatusBadRequest, "vector %s dimension %d does not match the dimension of the index %d", id, len(values), dim)
	}
	return nil
}

func (s *Server) handleUpsert(c *gin.Context) {
	var req struct {
		Vectors   []vectorstore.Record `json:"vectors"`
		Namespace string               `json:"namespace"`
	}
	if err := decodeBody(c, &req); err != nil {
		writeError(c, err)
		return
	}
	unlock, err := s.lock(c)
	if err != nil {
		writeError(c, err)
		return
	}
	defer unlock()
	row, err := s.serving(c.Request.Context(), c.Param("index"))
	if err != nil {
		writeError(c, err)
		return
	}
	for _, v := range req.Vectors {
		if v.ID == "" {
			writeError(c, errorf(http.StatusBadRequest, "vector id must not be empty"))
			return
		}
		if err := checkDimension(v.ID, v.Values, row.spec.Dimension); err != nil {
			writeError(c, err)
			return
		}
	}
	n, err := s.store.upsert(c.Request.Context(), row.spec.Name, req.Namespace, req.Vectors)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, map[string]int{"upsertedCount": n})
}

func (s *Server) handleFetch(c *gin.Context) {
	ids, namespace := c.QueryArray("ids"), c.Query("namespace")
	if len(ids) == 0 {
		writeError(c, errorf(http.StatusBadRequest, "at least one id is required"))
		return
	}
	unlock, err := s.lock(c)
	if err != nil {
		writeError(c, err)
		return
	}
	defer unlock()
	row, err := s.serving(c.Request.Context(), c.Param("index"))
	if err != nil {
		writeError(c, err)
		return
	}
	recs, err := s.store.fetch(c.Request.Context(), row.spec.Name, namespace, ids)
	if err != nil {
		writeError(c, err)
		return
	}
	out := vectorstore.FetchResponse{Vectors: make(map[string]vectorstore.Record, len(recs)), Namespace: namespace}
	for _, rec := range recs {
		out.Vectors[rec.ID] = rec
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleQuery(c *gin.Context) {
	var req struct {
		Vector          []float32       `json:"vector"`
		ID              string          `json:"id"`
		TopK            int             `json:"topK"`
		Namespace       string          `json:"namespace"`
		Filter          json.RawMessage `json:"filter"`
		IncludeValues   bool            `json:"includeValues"`
		IncludeMetadata bool            `json:"includeMetadata"`
	}
	if err := decodeBody(c, &req); err != nil {
		writeError(c, err)
		return
	}
	if req.TopK <= 0 {
		writeError(c, errorf(http.StatusBadRequest, "topK must be positive"))
		return
	}
	if (len(req.Vector) > 0) == (req.ID != "") {
		writeError(c, errorf(http.StatusBadRequest, "exactly one of vector or id is required"))
		return
	}
	filter, err := parseFilter(req.Filter)
	if err != nil {
		writeError(c, err)
		return
	}

	unlock, err := s.lock(c)
	if err != nil {
		writeError(c, err)
		return
	}
	defer unlock()
	row, err := s.serving(c.Request.Context(), c.Param("index"))
	if err != nil {
		writeError(c, err)
		return
	}
	ctx := c.Request.Context()
	vec := req.Vector
	if req.ID != "" {
		rec, ok, err := s.store.get(ctx, row.spec.Name, req.Namespace, req.ID)
		if err != nil {
			writeError(c, err)
			return
		}
		if !ok {
			writeError(c, errorf(http.StatusNotFound, "vector %s not found in namespace %q", req.ID, req.Namespace))
			return
		}
		vec = rec.Values
	} else if err := checkDimension("query", vec, row.spec.Dimension); err != nil {
		writeError(c, err)
		return
	}

	recs, err := s.store.scan(ctx, row.spec.Name, req.Namespace)
	if err != nil {
		writeError(c, err)
		return
	}
	candidates := recs[:0]
	for _, rec := range recs {
		if vectorstore.MatchFilter(filter, rec.Metadata) {
			candidates = append(candidates, rec)
		}
	}
	matches := rank(row.spec.Metric, vec, candidates, req.TopK)
	for i := range matches {
		if !req.IncludeValues {
			matches[i].Values = nil
		}
		if !req.IncludeMetadata {
			matches[i].Metadata = nil
		}
	}
	c.JSON(http.StatusOK, vectorstore.QueryResponse{Matches: matches, Namespace: req.Namespace})
}

func (s *Server) handleDelete(c *gin.Context) {
	var req struct {
		IDs       []string        `json:"ids"`
		DeleteAll bool            `json:"deleteAll"`
		Namespace string          `json:"namespace"`
		Filter    json.RawMessage `json:"filter"`
	}
	if err := decodeBody(c, &req); err != nil {
		writeError(c, err)
		return
	}
	filter, err := parseFilter(req.Filter)
	if err != nil {
		writeError(c, err)
		return
	}
	unlock, err := s.lock(c)
	if err != nil {
		writeError(c, err)
		return
	}
	defer unlock()
	row, err := s.serving(c.Request.Context(), c.Param("index"))
	if err != nil {
		writeError(c, err)
		return
	}
	ctx, name := c.Request.Context(), row.spec.Name
	switch {
	case req.DeleteAll:
		err = s.store.deleteNamespace(ctx, name, req.Namespace)
	case len(req.IDs) > 0:
		err = s.store.deleteIDs(ctx, name, req.Namespace, req.IDs)
	case filter != nil:
		var recs []vectorstore.Record
		recs, err = s.store.scan(ctx, name, req.Namespace)
		if err == nil {
			var ids []string
			for _, rec := range recs {
				if filter.Match(rec.Metadata) {
					ids = append(ids, rec.ID)
				}
			}
			err = s.store.deleteIDs(ctx, name, req.Namespace, ids)
		}
	default:
		err = errorf(http.StatusBadRequest, "one of ids, deleteAll or filter is required")
	}
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, struct{}{})
}

func (s *Server) handleUpdate(c *gin.Context) {
	var req struct {
		ID          string               `json:"id"`
		Values      []float32            `json:"values"`
		SetMetadata vectorstore.Metadata `json:"setMetadata"`
		Namespace   string               `json:"namespace"`
	}
	if err := decodeBody(c, &req); err != nil {
		writeError(c, err)
		return
	}
	if req.ID == "" {
		writeError(c, errorf(http.StatusBadRequest, "id is required"))
		return
	}
	unlock, err := s.lock(c)
	if err != nil {
		writeError(c, err)
		return
	}
	defer unlock()
	row, err := s.serving(c.Request.Context(), c.Param("index"))
	if err != nil {
		writeError(c, err)
		return
	}
	rec, ok, err := s.store.get(c.Request.Context(), row.spec.Name, req.Namespace, req.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	if !ok {
		writeError(c, errorf(http.StatusNotFound, "vector %s not found in namespace %q", req.ID, req.Namespace))
		return
	}
	if req.Values != nil {
		if err := checkDimension(req.ID, req.Values, row.spec.Dimension); err != nil {
			writeError(c, err)
			return
		}
		rec.Values = req.Values
	}
	if len(req.SetMetadata) > 0 {
		if rec.Metadata == nil {
			rec.Metadata = vectorstore.Metadata{}
		}
		for k, v := range req.SetMetadata {
			rec.Metadata[k] = v
		}
	}
	if err := s.store.replace(c.Request.Context(), row.spec.Name, req.Namespace, rec); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, struct{}{})
}

func (s *Server) handleStats(c *gin.Context) {
	var req struct {
		Filter json.RawMessage `json:"filter"`
	}
	if err := decodeBody(c, &req); err != nil {
		writeError(c, err)
		return
	}
	filter, err := parseFilter(req.Filter)
	if err != nil {
		writeError(c, err)
		return
	}
	unlock, err := s.lock(c)
	if err != nil {
		writeError(c, err)
		return
	}
	defer unlock()
	row, err := s.serving(c.Request.Context(), c.Param("index"))
	if err != nil {
		writeError(c, err)
		return
	}
	ctx := c.Request.Context()
	counts, err := s.store.namespaces(ctx, row.spec.Name)
	if err != nil {
		writeError(c, err)
		return
	}
	if filter != nil {
		for ns := range counts {
			recs, err := s.store.scan(ctx, row.spec.Name, ns)
			if err != nil {
				writeError(c, err)
				return
			}
			var n int64
			for _, rec := range recs {
				if filter.Match(rec.Metadata) {
					n++
				}
			}
			if n == 0 {
				delete(counts, ns)
			} else {
				counts[ns] = n
			}
		}
	}

	stats := vectorstore.IndexStats{
		Namespaces: make(map[string]vectorstore.NamespaceStats, len(counts)),
		Dimension:  row.spec.Dimension,
	}
	for ns, n := range counts {
		stats.Namespaces[ns] = vectorstore.NamespaceStats{VectorCount: n}
		stats.TotalVectorCount += n
	}
	capacity := podCapacity[row.spec.PodType.Family] * sizeFactor[row.spec.PodType.Size] * int64(max(row.spec.Pods, 1))
	if capacity > 0 {
		stats.IndexFullness = float64(stats.TotalVectorCount) / float64(capacity)
	}
	c.JSON(http.StatusOK, stats)
}
