package httpclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// testTask はテスト用のレスポンスペイロード。
type testTask struct {
	// ID はテスト用のIDフィールド。
	ID int `json:"id"`
	// Title はテスト用のタイトルフィールド。
	Title string `json:"title"`
}

// TestNew はNew関数でクライアントが正しく生成されることを検証する。
func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("クライアントが正常に生成されること", func(t *testing.T) {
		t.Parallel()

		client := New("http://localhost:8082")
		if client == nil {
			t.Fatal("New()がnilを返した")
		}
		if client.BaseURL() != "http://localhost:8082" {
			t.Errorf("baseURL = %q, want %q", client.BaseURL(), "http://localhost:8082")
		}
		if client.httpClient == nil {
			t.Fatal("httpClientがnil")
		}
	})

	t.Run("デフォルトのタイムアウトが5秒に設定されていること", func(t *testing.T) {
		t.Parallel()

		client := New("http://localhost:8082")
		if client.httpClient.Timeout != DefaultTimeout {
			t.Errorf("Timeout = %v, want %v", client.httpClient.Timeout, DefaultTimeout)
		}
	})

	t.Run("WithTimeoutでタイムアウトを変更できること", func(t *testing.T) {
		t.Parallel()

		client := New("http://localhost:8082", WithTimeout(2*time.Second))
		if client.httpClient.Timeout != 2*time.Second {
			t.Errorf("Timeout = %v, want 2s", client.httpClient.Timeout)
		}
	})

	t.Run("WithTimeoutに0を指定した場合はデフォルトのままであること", func(t *testing.T) {
		t.Parallel()

		client := New("http://localhost:8082", WithTimeout(0))
		if client.httpClient.Timeout != DefaultTimeout {
			t.Errorf("Timeout = %v, want %v", client.httpClient.Timeout, DefaultTimeout)
		}
	})
}

// TestGetJSON はGetJSON関数を検証する。
func TestGetJSON(t *testing.T) {
	t.Parallel()

	t.Run("正常にGETリクエストを送信してレスポンスを取得できること", func(t *testing.T) {
		t.Parallel()

		var method, path string
		var body []byte
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			method = r.Method
			path = r.URL.Path
			body, _ = io.ReadAll(r.Body)
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(testTask{ID: 42, Title: "レポート提出"})
		}))
		defer ts.Close()

		client := New(ts.URL)
		var result testTask

		if err := client.GetJSON(context.Background(), "/api/tasks/42", &result); err != nil {
			t.Fatalf("GetJSON()でエラーが発生: %v", err)
		}

		if method != http.MethodGet {
			t.Errorf("Method = %q, want %q", method, http.MethodGet)
		}
		if path != "/api/tasks/42" {
			t.Errorf("Path = %q, want %q", path, "/api/tasks/42")
		}
		if len(body) != 0 {
			t.Errorf("GETリクエストにボディが含まれている: %q", string(body))
		}
		if result.ID != 42 || result.Title != "レポート提出" {
			t.Errorf("result = %+v, want {ID:42 Title:レポート提出}", result)
		}
	})

	t.Run("サーバーが404を返した場合にStatusErrorが返ること", func(t *testing.T) {
		t.Parallel()

		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error":"Task not found"}`))
		}))
		defer ts.Close()

		client := New(ts.URL)
		var result testTask

		err := client.GetJSON(context.Background(), "/api/tasks/999", &result)
		if err == nil {
			t.Fatal("GetJSON()がエラーを返すべきだが、nilが返った")
		}
		if !IsNotFound(err) {
			t.Errorf("IsNotFound(%v) = false, want true", err)
		}
		var se *StatusError
		if !errors.As(err, &se) {
			t.Fatalf("StatusErrorではない: %T", err)
		}
		if se.Body != `{"error":"Task not found"}` {
			t.Errorf("Body = %q", se.Body)
		}
	})

	t.Run("サーバーが500を返した場合はIsNotFoundがfalseであること", func(t *testing.T) {
		t.Parallel()

		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer ts.Close()

		client := New(ts.URL)
		err := client.GetJSON(context.Background(), "/api/tasks", nil)
		if err == nil {
			t.Fatal("GetJSON()がエラーを返すべきだが、nilが返った")
		}
		if IsNotFound(err) {
			t.Error("500エラーがNotFoundと判定された")
		}
	})

	t.Run("不正なJSONレスポンスでエラーが返ること", func(t *testing.T) {
		t.Parallel()

		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{invalid json}`))
		}))
		defer ts.Close()

		client := New(ts.URL)
		var result testTask

		if err := client.GetJSON(context.Background(), "/api/tasks/1", &result); err == nil {
			t.Fatal("GetJSON()がエラーを返すべきだが、nilが返った")
		}
	})

	t.Run("接続できないサーバーに対してエラーが返ること", func(t *testing.T) {
		t.Parallel()

		// 存在しないサーバーに接続を試みる
		client := New("http://127.0.0.1:1")
		var result testTask

		if err := client.GetJSON(context.Background(), "/api/tasks", &result); err == nil {
			t.Fatal("GetJSON()がエラーを返すべきだが、nilが返った")
		}
	})

	t.Run("タイムアウトを超えた場合にエラーが返ること", func(t *testing.T) {
		t.Parallel()

		release := make(chan struct{})
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		}))
		defer ts.Close()
		defer close(release)

		client := New(ts.URL, WithTimeout(50*time.Millisecond))
		if err := client.GetJSON(context.Background(), "/api/tasks", nil); err == nil {
			t.Fatal("GetJSON()がエラーを返すべきだが、nilが返った")
		}
	})

	t.Run("キャンセルされたコンテキストでエラーが返ること", func(t *testing.T) {
		t.Parallel()

		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			json.NewEncoder(w).Encode(testTask{ID: 1})
		}))
		defer ts.Close()

		client := New(ts.URL)
		ctx, cancel := context.WithCancel(context.Background())
		cancel() // 即座にキャンセル

		var result testTask
		if err := client.GetJSON(ctx, "/api/tasks/1", &result); err == nil {
			t.Fatal("GetJSON()がエラーを返すべきだが、nilが返った")
		}
	})
}

// TestWithRequestID はWithRequestID関数を検証する。
func TestWithRequestID(t *testing.T) {
	t.Parallel()

	t.Run("コンテキストのリクエストIDがヘッダーに伝播されること", func(t *testing.T) {
		t.Parallel()

		var received string
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			received = r.Header.Get(HeaderRequestID)
			json.NewEncoder(w).Encode(testTask{ID: 1})
		}))
		defer ts.Close()

		client := New(ts.URL)
		ctx := WithRequestID(context.Background(), "req-123")
		if err := client.GetJSON(ctx, "/api/users/1", nil); err != nil {
			t.Fatalf("GetJSON()でエラーが発生: %v", err)
		}
		if received != "req-123" {
			t.Errorf("X-Request-ID = %q, want %q", received, "req-123")
		}
		if got := RequestID(ctx); got != "req-123" {
			t.Errorf("RequestID() = %q, want %q", got, "req-123")
		}
	})

	t.Run("未設定の場合はヘッダーが空であること", func(t *testing.T) {
		t.Parallel()

		var received string
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			received = r.Header.Get(HeaderRequestID)
			json.NewEncoder(w).Encode(testTask{ID: 1})
		}))
		defer ts.Close()

		client := New(ts.URL)
		if err := client.GetJSON(context.Background(), "/api/users/1", nil); err != nil {
			t.Fatalf("GetJSON()でエラーが発生: %v", err)
		}
		if received != "" {
			t.Errorf("X-Request-ID = %q, want empty string", received)
		}
	})
}
