package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"ChainGuard/internal/agent"
	xerrors "ChainGuard/internal/errors"
	"ChainGuard/internal/risk"
	"ChainGuard/internal/task"
	"ChainGuard/internal/verdict"
)

// errorBody 是所有错误响应的结构。
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code     xerrors.Code      `json:"code"`
	Message  string            `json:"message"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	detail := errorDetail{Code: xerrors.CodeOf(err), Message: err.Error()}
	if e, ok := xerrors.From(err); ok {
		detail.Message = e.Message()
		detail.Metadata = e.Metadata()
	}
	writeJSON(w, xerrors.HTTPStatusOf(err), errorBody{Error: detail})
}

func unavailable(w http.ResponseWriter, what string) {
	writeError(w, xerrors.New(xerrors.CodeInitializationFailure, what+" 未启用"))
}

// pathAddress 读取并校验路径中的地址。
func pathAddress(w http.ResponseWriter, r *http.Request) (string, bool) {
	address := strings.TrimSpace(r.PathValue("address"))
	if address == "" {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "地址不能为空"))
		return "", false
	}
	return address, true
}

func (s *Server) handleRisk(w http.ResponseWriter, r *http.Request) {
	address, ok := pathAddress(w, r)
	if !ok {
		return
	}
	assessment, err := s.engine.Assess(r.Context(), address)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.verdicts.Emit(r.Context(), verdict.FromAssessment(verdict.SourceAPI, assessment)); err != nil {
		s.log.Warn("发布风险判定失败", slog.Any("error", err), slog.String("address", address))
	}
	writeJSON(w, http.StatusOK, assessment)
}

func (s *Server) handleAddressDetails(w http.ResponseWriter, r *http.Request) {
	address, ok := pathAddress(w, r)
	if !ok {
		return
	}
	details, err := s.engine.AddressDetails(r.Context(), address)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, details)
}

func (s *Server) handleScamStatus(w http.ResponseWriter, r *http.Request) {
	address, ok := pathAddress(w, r)
	if !ok {
		return
	}
	status, err := s.engine.CheckScamStatus(r.Context(), address)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleBehavior(w http.ResponseWriter, r *http.Request) {
	address, ok := pathAddress(w, r)
	if !ok {
		return
	}
	report, err := s.engine.AnalyzeBehavior(r.Context(), address)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handlePatterns(w http.ResponseWriter, r *http.Request) {
	address, ok := pathAddress(w, r)
	if !ok {
		return
	}
	report, err := s.engine.ScanAddress(r.Context(), address)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleConnected(w http.ResponseWriter, r *http.Request) {
	address, ok := pathAddress(w, r)
	if !ok {
		return
	}
	connected, err := s.engine.Classifier().ConnectedAddresses(r.Context(), address)
	if err != nil {
		writeError(w, err)
		return
	}
	if connected == nil {
		connected = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"address": address, "connected_addresses": connected})
}

func (s *Server) handleAddressTransactions(w http.ResponseWriter, r *http.Request) {
	address, ok := pathAddress(w, r)
	if !ok {
		return
	}
	txs, err := s.engine.TransactionsByAddress(r.Context(), address)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"address": address, "transactions": txs})
}

// handleTransaction 未命中时仍返回 200，错误信息放在响应体中。
func (s *Server) handleTransaction(w http.ResponseWriter, r *http.Request) {
	lookup, err := s.engine.LookupTransaction(r.Context(), r.PathValue("hash"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, lookup)
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	if s.agent == nil {
		unavailable(w, "智能体")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"agents": s.agent.Catalog().List()})
}

func (s *Server) handleAgentHistory(w http.ResponseWriter, r *http.Request) {
	if s.agent == nil {
		unavailable(w, "智能体")
		return
	}
	limit, err := intQuery(r, "limit", 20)
	if err != nil {
		writeError(w, err)
		return
	}
	entries, err := s.agent.ListHistory(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": entries})
}

type runAgentRequest struct {
	Input    string         `json:"input"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func (s *Server) handleRunAgent(w http.ResponseWriter, r *http.Request) {
	if s.agent == nil {
		unavailable(w, "智能体")
		return
	}
	var req runAgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "请求体解析失败"))
		return
	}
	name := r.PathValue("name")
	result, err := s.agent.Execute(r.Context(), agent.RunRequest{Agent: name, Input: req.Input, Metadata: req.Metadata})
	if err != nil {
		writeError(w, err)
		return
	}
	if result.Assessment != nil {
		v := verdict.FromAssessment(verdict.SourceAPI, result.Assessment)
		v.Agent = result.Agent
		if err := s.verdicts.Emit(r.Context(), v); err != nil {
			s.log.Warn("发布风险判定失败", slog.Any("error", err), slog.String("agent", name))
		}
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	if s.tasks == nil {
		unavailable(w, "任务服务")
		return
	}
	var req task.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "请求体解析失败"))
		return
	}
	created, err := s.tasks.Submit(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, created)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	if s.tasks == nil {
		unavailable(w, "任务服务")
		return
	}
	opts, err := parseTaskFilters(r)
	if err != nil {
		writeError(w, err)
		return
	}
	tasks, err := s.tasks.List(r.Context(), opts...)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

func (s *Server) handleTaskStats(w http.ResponseWriter, r *http.Request) {
	if s.tasks == nil {
		unavailable(w, "任务服务")
		return
	}
	opts, err := parseTaskFilters(r)
	if err != nil {
		writeError(w, err)
		return
	}
	stats, err := s.tasks.Stats(r.Context(), opts...)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleTaskDetail(w http.ResponseWriter, r *http.Request) {
	if s.tasks == nil {
		unavailable(w, "任务服务")
		return
	}
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "任务 ID 不能为空"))
		return
	}
	found, err := s.tasks.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, found)
}

type healthResponse struct {
	Status     string          `json:"status"`
	Chains     any             `json:"chains,omitempty"`
	ChainError string          `json:"chain_error,omitempty"`
	Thresholds risk.Thresholds `json:"thresholds"`
}

// handleHealth 链节点不可达时返回 degraded，但仍是 200。
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Thresholds: s.engine.Thresholds()}
	if s.chains != nil {
		snapshots, err := s.chains.Snapshots(r.Context())
		if len(snapshots) > 0 {
			resp.Chains = snapshots
		}
		if err != nil {
			resp.Status = "degraded"
			resp.ChainError = err.Error()
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// parseTaskFilters 解析 status、agent、q、limit、offset、order、has_result、since、until 参数。
func parseTaskFilters(r *http.Request) ([]task.ListOption, error) {
	query := r.URL.Query()
	var opts []task.ListOption

	if raw := query.Get("status"); raw != "" {
		var statuses []task.Status
		for _, part := range strings.Split(raw, ",") {
			status := task.Status(strings.TrimSpace(part))
			if !task.IsValidStatus(status) {
				return nil, xerrors.New(xerrors.CodeInvalidArgument, "未知的任务状态: "+part)
			}
			statuses = append(statuses, status)
		}
		opts = append(opts, task.WithStatuses(statuses...))
	}
	if agentName := query.Get("agent"); agentName != "" {
		opts = append(opts, task.WithAgent(agentName))
	}
	if q := query.Get("q"); q != "" {
		opts = append(opts, task.WithQuery(q))
	}
	limit, err := intQuery(r, "limit", 20)
	if err != nil {
		return nil, err
	}
	offset, err := intQuery(r, "offset", 0)
	if err != nil {
		return nil, err
	}
	opts = append(opts, task.WithLimit(limit), task.WithOffset(offset))

	switch query.Get("order") {
	case "", "desc":
	case "asc":
		opts = append(opts, task.WithSortOrder(task.SortByUpdatedAsc))
	default:
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "order 只支持 asc/desc")
	}
	if raw := query.Get("has_result"); raw != "" {
		hasResult, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "has_result 必须是布尔值")
		}
		opts = append(opts, task.WithResultPresence(hasResult))
	}
	if raw := query.Get("since"); raw != "" {
		ts, err := parseTime(raw)
		if err != nil {
			return nil, err
		}
		opts = append(opts, task.WithUpdatedSince(ts))
	}
	if raw := query.Get("until"); raw != "" {
		ts, err := parseTime(raw)
		if err != nil {
			return nil, err
		}
		opts = append(opts, task.WithUpdatedUntil(ts))
	}
	return opts, nil
}

func intQuery(r *http.Request, key string, fallback int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return 0, xerrors.New(xerrors.CodeInvalidArgument, key+" 必须是非负整数")
	}
	return value, nil
}

// parseTime 接受 RFC 3339 或 Unix 秒。
func parseTime(raw string) (time.Time, error) {
	if secs, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(secs, 0), nil
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "时间格式错误: "+raw)
	}
	return ts, nil
}
