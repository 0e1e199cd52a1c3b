package app

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"dochub/api/internal/diff"
	"dochub/api/internal/search"
	"dochub/api/internal/store"
)

func (s *HTTPServer) listDocuments(c *gin.Context) {
	docs, err := s.service.Registry().List(c.Request.Context(), c.Param("repoId"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"documents": documentSummaries(docs)})
}

func (s *HTTPServer) createDocument(c *gin.Context) {
	var in CreateDocumentInput
	if !decodeBody(c, &in) {
		return
	}
	in.RepoID = c.Param("repoId")
	doc, err := s.service.Registry().Create(c.Request.Context(), actorFrom(c), in)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"document": documentView(doc)})
}

func (s *HTTPServer) getDocument(c *gin.Context) {
	doc, err := s.service.Registry().Get(c.Request.Context(), c.Param("repoId"), c.Param("slug"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"document": documentView(doc)})
}

func (s *HTTPServer) updateDocument(c *gin.Context) {
	var in UpdateDocumentInput
	if !decodeBody(c, &in) {
		return
	}
	doc, err := s.service.Registry().Update(c.Request.Context(), actorFrom(c), c.Param("repoId"), c.Param("slug"), in)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"document": documentView(doc)})
}

func (s *HTTPServer) listVersions(c *gin.Context) {
	ctx := c.Request.Context()
	doc, err := s.service.Registry().Get(ctx, c.Param("repoId"), c.Param("slug"))
	if err != nil {
		s.fail(c, err)
		return
	}
	versions, err := s.service.Versions().History(ctx, doc.ID)
	if err != nil {
		s.fail(c, err)
		return
	}
	items := make([]VersionView, 0, len(versions))
	for _, v := range versions {
		items = append(items, versionView(v, false))
	}
	c.JSON(http.StatusOK, gin.H{"documentId": doc.ID, "versions": items})
}

func (s *HTTPServer) getVersion(c *gin.Context) {
	number, err := strconv.Atoi(c.Param("number"))
	if err != nil {
		s.fail(c, validationError(map[string]string{"number": "version number must be an integer"}))
		return
	}
	ctx := c.Request.Context()
	doc, err := s.service.Registry().Get(ctx, c.Param("repoId"), c.Param("slug"))
	if err != nil {
		s.fail(c, err)
		return
	}
	version, err := s.service.Versions().VersionAt(ctx, doc.ID, number)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"documentId": doc.ID, "version": versionView(version, true)})
}

func (s *HTTPServer) compareVersions(c *gin.Context) {
	fields := map[string]string{}
	from, err := strconv.Atoi(c.Query("from"))
	if err != nil {
		fields["from"] = "from must be a version number"
	}
	to, err := strconv.Atoi(c.Query("to"))
	if err != nil {
		fields["to"] = "to must be a version number"
	}
	mode, format := s.diffOptions(c, fields)
	if len(fields) > 0 {
		s.fail(c, validationError(fields))
		return
	}

	cmp, err := s.service.Registry().Compare(c.Request.Context(), c.Param("repoId"), c.Param("slug"), from, to, mode)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.writeComparison(c, cmp, format)
}

func (s *HTTPServer) listDURs(c *gin.Context) {
	ctx := c.Request.Context()
	durs, err := s.service.Workflow().List(ctx, c.Param("repoId"), c.Query("status"))
	if err != nil {
		s.fail(c, err)
		return
	}
	views, err := s.service.DescribeDURs(ctx, durs)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"durs": views})
}

func (s *HTTPServer) createDUR(c *gin.Context) {
	var in CreateDURInput
	if !decodeBody(c, &in) {
		return
	}
	in.RepoID = c.Param("repoId")
	ctx := c.Request.Context()
	dur, err := s.service.Workflow().Create(ctx, actorFrom(c), in)
	if err != nil {
		s.fail(c, err)
		return
	}
	view, err := s.service.DescribeDUR(ctx, dur)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"dur": view})
}

func (s *HTTPServer) getDUR(c *gin.Context) {
	ctx := c.Request.Context()
	dur, err := s.service.Workflow().Get(ctx, c.Param("repoId"), c.Param("durId"))
	if err != nil {
		s.fail(c, err)
		return
	}
	view, err := s.service.DescribeDUR(ctx, dur)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"dur": view})
}

func (s *HTTPServer) durDiff(c *gin.Context) {
	fields := map[string]string{}
	mode, format := s.diffOptions(c, fields)
	if len(fields) > 0 {
		s.fail(c, validationError(fields))
		return
	}
	cmp, err := s.service.Workflow().Diff(c.Request.Context(), c.Param("repoId"), c.Param("durId"), mode)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.writeComparison(c, cmp, format)
}

type reviewBody struct {
	Comment string `json:"comment"`
}

func (s *HTTPServer) approveDUR(c *gin.Context) {
	var body reviewBody
	if !decodeBody(c, &body) {
		return
	}
	ctx := c.Request.Context()
	dur, err := s.service.Workflow().ApproveAndMerge(ctx, c.Param("repoId"), c.Param("durId"), actorFrom(c), body.Comment)
	if err != nil {
		s.fail(c, err)
		return
	}
	view, err := s.service.DescribeDUR(ctx, dur)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"dur": view})
}

func (s *HTTPServer) rejectDUR(c *gin.Context) {
	var body reviewBody
	if !decodeBody(c, &body) {
		return
	}
	ctx := c.Request.Context()
	dur, err := s.service.Workflow().Reject(ctx, c.Param("repoId"), c.Param("durId"), actorFrom(c), body.Comment)
	if err != nil {
		s.fail(c, err)
		return
	}
	view, err := s.service.DescribeDUR(ctx, dur)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"dur": view})
}

func (s *HTTPServer) listComments(c *gin.Context) {
	ctx := c.Request.Context()
	comments, err := s.service.Comments().List(ctx, c.Param("repoId"), c.Param("durId"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"comments": s.service.DescribeComments(ctx, comments)})
}

func (s *HTTPServer) addComment(c *gin.Context) {
	var body struct {
		Content string `json:"content"`
	}
	if !decodeBody(c, &body) {
		return
	}
	ctx := c.Request.Context()
	comment, err := s.service.Comments().Add(ctx, c.Param("repoId"), c.Param("durId"), actorFrom(c), body.Content)
	if err != nil {
		s.fail(c, err)
		return
	}
	views := s.service.DescribeComments(ctx, []store.Comment{comment})
	c.JSON(http.StatusCreated, gin.H{"comment": views[0]})
}

func (s *HTTPServer) searchDocuments(c *gin.Context) {
	if s.opts.Search == nil {
		s.fail(c, domainError(KindUnavailable, "Search is not configured", nil))
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	resp, err := s.opts.Search.Search(c.Request.Context(), search.Query{
		RepoID: c.Param("repoId"),
		Text:   c.Query("q"),
		Limit:  limit,
	})
	if err != nil {
		unavailable := domainError(KindUnavailable, "Search unavailable, retry the request", nil)
		unavailable.cause = err
		s.fail(c, unavailable)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// diffOptions reads the mode and format query parameters, recording invalid
// values in fields.
func (s *HTTPServer) diffOptions(c *gin.Context, fields map[string]string) (diff.Mode, string) {
	mode, ok := diff.ParseMode(c.Query("mode"))
	if !ok {
		fields["mode"] = "mode must be positional or minimal"
	}
	format := strings.ToLower(strings.TrimSpace(c.DefaultQuery("format", "json")))
	if format != "json" && format != "unified" {
		fields["format"] = "format must be json or unified"
	}
	return mode, format
}

func (s *HTTPServer) writeComparison(c *gin.Context, cmp Comparison, format string) {
	if format != "unified" {
		c.JSON(http.StatusOK, cmp)
		return
	}
	text, err := diff.Unified(cmp.From, cmp.To, cmp.Lines)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.Data(http.StatusOK, "text/x-diff; charset=utf-8", []byte(text))
}
