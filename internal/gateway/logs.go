package gateway

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/relay/internal/audit"
)

// recentWindow は GET /logs が返す期間。
const recentWindow = 7 * 24 * time.Hour

// listLogs は検索結果を返す共通処理。
func (s *Server) listLogs(c *gin.Context, records []audit.Record, err error) {
	if err != nil {
		s.failInternal(c, "監査ログの検索に失敗しました", err)
		return
	}
	s.respond(c, http.StatusOK, "監査ログを取得しました", gin.H{
		"records": records,
		"count":   len(records),
	})
}

// parseTime はクエリパラメータをRFC 3339の時刻として読む。
func parseTime(c *gin.Context, name string) (time.Time, error) {
	raw := c.Query(name)
	if raw == "" {
		return time.Time{}, fmt.Errorf("%sが指定されていません", name)
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%sの形式が不正です: %w", name, err)
	}
	return t, nil
}

// parseRange は start と end のクエリパラメータを読む。
func parseRange(c *gin.Context) (from, to time.Time, err error) {
	if from, err = parseTime(c, "start"); err != nil {
		return time.Time{}, time.Time{}, err
	}
	if to, err = parseTime(c, "end"); err != nil {
		return time.Time{}, time.Time{}, err
	}
	if to.Before(from) {
		return time.Time{}, time.Time{}, errors.New("endがstartより前です")
	}
	return from, to, nil
}

// parseStatus はパスパラメータを監査レコードの状態として読む。
func (s *Server) parseStatus(c *gin.Context) (audit.Status, bool) {
	status, ok := audit.ParseStatus(c.Param("status"))
	if !ok {
		s.fail(c, http.StatusBadRequest, "状態はPENDING、SUCCESS、ERRORのいずれかを指定してください", nil)
	}
	return status, ok
}

// handleRecentLogs は直近7日間の監査ログを返すハンドラを返す。
func (s *Server) handleRecentLogs() gin.HandlerFunc {
	return func(c *gin.Context) {
		records, err := s.audit.Recent(c.Request.Context(), s.now(), recentWindow)
		s.listLogs(c, records, err)
	}
}

// handleLogByRequestID はリクエストIDで監査ログを返すハンドラを返す。
func (s *Server) handleLogByRequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		record, err := s.audit.Get(c.Request.Context(), c.Param("id"))
		if errors.Is(err, audit.ErrNotFound) {
			s.fail(c, http.StatusNotFound, "監査ログが見つかりません", nil)
			return
		}
		if err != nil {
			s.failInternal(c, "監査ログの取得に失敗しました", err)
			return
		}
		s.respond(c, http.StatusOK, "監査ログを取得しました", gin.H{"record": record})
	}
}

// handleLogsByService はサービス名で監査ログを返すハンドラを返す。
func (s *Server) handleLogsByService() gin.HandlerFunc {
	return func(c *gin.Context) {
		records, err := s.audit.ByService(c.Request.Context(), c.Param("service"))
		s.listLogs(c, records, err)
	}
}

// handleLogsByServiceRange はサービス名と時刻範囲で監査ログを返すハンドラを返す。
func (s *Server) handleLogsByServiceRange() gin.HandlerFunc {
	return func(c *gin.Context) {
		from, to, err := parseRange(c)
		if err != nil {
			s.fail(c, http.StatusBadRequest, err.Error(), nil)
			return
		}
		records, err := s.audit.ByServiceBetween(c.Request.Context(), c.Param("service"), from, to)
		s.listLogs(c, records, err)
	}
}

// handleLogsByServiceAndStatus はサービス名と状態で監査ログを返すハンドラを返す。
func (s *Server) handleLogsByServiceAndStatus() gin.HandlerFunc {
	return func(c *gin.Context) {
		status, ok := s.parseStatus(c)
		if !ok {
			return
		}
		records, err := s.audit.ByServiceAndStatus(c.Request.Context(), c.Param("service"), status)
		s.listLogs(c, records, err)
	}
}

// handleLogsByStatus は状態で監査ログを返すハンドラを返す。
func (s *Server) handleLogsByStatus() gin.HandlerFunc {
	return func(c *gin.Context) {
		status, ok := s.parseStatus(c)
		if !ok {
			return
		}
		records, err := s.audit.ByStatus(c.Request.Context(), status)
		s.listLogs(c, records, err)
	}
}

// handleLogsByClientIP はクライアントのIPアドレスで監査ログを返すハンドラを返す。
func (s *Server) handleLogsByClientIP() gin.HandlerFunc {
	return func(c *gin.Context) {
		records, err := s.audit.ByClientIP(c.Request.Context(), c.Param("ip"))
		s.listLogs(c, records, err)
	}
}

// handleLogsByRange は時刻範囲で監査ログを返すハンドラを返す。
func (s *Server) handleLogsByRange() gin.HandlerFunc {
	return func(c *gin.Context) {
		from, to, err := parseRange(c)
		if err != nil {
			s.fail(c, http.StatusBadRequest, err.Error(), nil)
			return
		}
		records, err := s.audit.Between(c.Request.Context(), from, to)
		s.listLogs(c, records, err)
	}
}

// handleErrorLogs はエラーの監査ログを返すハンドラを返す。
func (s *Server) handleErrorLogs() gin.HandlerFunc {
	return func(c *gin.Context) {
		records, err := s.audit.ByStatus(c.Request.Context(), audit.StatusError)
		s.listLogs(c, records, err)
	}
}

// handleErrorLogsSince は指定時刻以降のエラーの監査ログを返すハンドラを返す。
func (s *Server) handleErrorLogsSince() gin.HandlerFunc {
	return func(c *gin.Context) {
		since, err := parseTime(c, "since")
		if err != nil {
			s.fail(c, http.StatusBadRequest, err.Error(), nil)
			return
		}
		records, err := s.audit.ErrorsSince(c.Request.Context(), since)
		s.listLogs(c, records, err)
	}
}

// handleAnalytics は監査ログの集計値を返すハンドラを返す。
func (s *Server) handleAnalytics() gin.HandlerFunc {
	return func(c *gin.Context) {
		a, err := s.audit.Analytics(c.Request.Context(), s.now())
		if err != nil {
			s.failInternal(c, "監査ログの集計に失敗しました", err)
			return
		}
		s.respond(c, http.StatusOK, "監査ログを集計しました", gin.H{"analytics": a})
	}
}
