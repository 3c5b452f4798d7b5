package handler

import (
	"encoding/json"
	"net/http"
)

// Trigger はサイト再生成を要求する先。trigger.Coalescerが満たす。
type Trigger interface {
	Request()
}

// RegenerateHandler は手動でサイト再生成を要求するHTTPハンドラー。
type RegenerateHandler struct {
	trigger Trigger
}

// NewRegenerateHandler はRegenerateHandlerを生成する。
func NewRegenerateHandler(trigger Trigger) *RegenerateHandler {
	return &RegenerateHandler{trigger: trigger}
}

// Regenerate は再生成を要求して即座に202を返す。
// 実行中の再生成がある場合は、その完了後に1回だけ再実行される。
// POST /regenerate
func (h *RegenerateHandler) Regenerate(w http.ResponseWriter, r *http.Request) {
	h.trigger.Request()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "accepted"})
}
