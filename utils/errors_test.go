package utils

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestKindOf(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, Kind("")},
		{"app error", E(KindNotFound, "合同不存在"), KindNotFound},
		{"wrapped app error", fmt.Errorf("查询失败: %w", E(KindConflict, "编号重复")), KindConflict},
		{"deadline", context.DeadlineExceeded, KindTimeout},
		{"wrapped deadline", fmt.Errorf("调用超时: %w", context.DeadlineExceeded), KindTimeout},
		{"plain", errors.New("boom"), KindInternal},
	}
	for _, tc := range cases {
		if got := KindOf(tc.err); got != tc.want {
			t.Errorf("%s: KindOf = %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestHTTPStatus(t *testing.T) {
	cases := map[Kind]int{
		KindValidation:  http.StatusBadRequest,
		KindConflict:    http.StatusBadRequest,
		KindNotFound:    http.StatusNotFound,
		KindUnavailable: http.StatusServiceUnavailable,
		KindUpstream:    http.StatusInternalServerError,
		KindTimeout:     http.StatusInternalServerError,
		KindIO:          http.StatusInternalServerError,
		KindInternal:    http.StatusInternalServerError,
	}
	for kind, want := range cases {
		if got := HTTPStatus(kind); got != want {
			t.Errorf("HTTPStatus(%s) = %d, want %d", kind, got, want)
		}
	}
}

func TestAppErrorMessageAndUnwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(KindIO, "文件保存失败", cause)

	if err.Error() != "文件保存失败: disk full" {
		t.Errorf("Error() = %q", err.Error())
	}
	if !errors.Is(err, cause) {
		t.Error("cause lost from chain")
	}
	if E(KindValidation, "参数无效").Error() != "参数无效" {
		t.Error("bare message altered")
	}
}

func respond(t *testing.T, err error, debug bool) (int, ErrorResponse) {
	t.Helper()
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	RespondWithAppError(c, err, debug)

	var resp ErrorResponse
	if uerr := json.Unmarshal(w.Body.Bytes(), &resp); uerr != nil {
		t.Fatalf("response json: %v", uerr)
	}
	return w.Code, resp
}

func TestRespondWithAppErrorMasksInternal(t *testing.T) {
	err := Wrap(KindInternal, "数据库查询失败", errors.New("bad driver"))

	code, resp := respond(t, err, false)
	if code != http.StatusInternalServerError {
		t.Errorf("status = %d", code)
	}
	if resp.Message != "服务器内部错误" {
		t.Errorf("internal message leaked: %q", resp.Message)
	}
	if resp.Details != nil {
		t.Errorf("details leaked: %v", resp.Details)
	}

	code, resp = respond(t, err, true)
	if code != http.StatusInternalServerError {
		t.Errorf("status = %d", code)
	}
	if resp.Message != "数据库查询失败" {
		t.Errorf("debug message = %q", resp.Message)
	}
	if resp.Details != "bad driver" {
		t.Errorf("debug details = %v", resp.Details)
	}
}

func TestRespondWithAppErrorKeepsClientMessages(t *testing.T) {
	code, resp := respond(t, E(KindNotFound, "合同不存在"), false)
	if code != http.StatusNotFound {
		t.Errorf("status = %d", code)
	}
	if resp.Message != "合同不存在" || resp.ErrorCode != "not_found" {
		t.Errorf("resp = %+v", resp)
	}

	code, resp = respond(t, errors.New("boom"), false)
	if code != http.StatusInternalServerError || resp.Message != "服务器内部错误" {
		t.Errorf("plain error not masked: %d %+v", code, resp)
	}

	_, resp = respond(t, errors.New("boom"), true)
	if resp.Message != "boom" {
		t.Errorf("debug message = %q", resp.Message)
	}
}

func TestRespondHelpers(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	RespondWithBadRequest(c, "参数错误", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad request status = %d", w.Code)
	}

	w = httptest.NewRecorder()
	c, _ = gin.CreateTestContext(w)
	RespondWithNotFound(c, "不存在")
	if w.Code != http.StatusNotFound {
		t.Errorf("not found status = %d", w.Code)
	}

	w = httptest.NewRecorder()
	c, _ = gin.CreateTestContext(w)
	RespondWithInternalError(c, "内部错误", nil)
	if w.Code != http.StatusInternalServerError {
		t.Errorf("internal status = %d", w.Code)
	}
}
