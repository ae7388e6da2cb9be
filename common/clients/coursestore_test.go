package clients

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openlearn/coursestore/common/logger"
)

func TestCoursestoreClientCreateCourse(t *testing.T) {
	var gotUser string
	var gotBody map[string]interface{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/v1/courses", r.URL.Path)
		gotUser = r.Header.Get("X-User-ID")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"key":      "block-v1:edX+Demo+2026+type@course+block@2026",
			"category": "course",
		})
	}))
	defer server.Close()

	client := NewCoursestoreClient(server.URL, logger.New("error", "text"))
	ctx := WithUserID(context.Background(), "instructor")

	root, err := client.CreateCourse(ctx, "edX", "Demo", "2026", map[string]interface{}{"display_name": "Demo"})
	require.NoError(t, err)
	require.Equal(t, "course", root.Category)
	require.Equal(t, "instructor", gotUser)
	require.Equal(t, "edX", gotBody["org"])
}

func TestCoursestoreClientGetBlock(t *testing.T) {
	key := "block-v1:edX+Demo+2026+type@problem+block@q1"

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "published", r.URL.Query().Get("revision"))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"key":      key,
			"category": "problem",
			"fields":   map[string]interface{}{"display_name": "Quiz"},
		})
	}))
	defer server.Close()

	client := NewCoursestoreClient(server.URL, logger.New("error", "text"))
	block, err := client.GetBlock(context.Background(), key, "published")
	require.NoError(t, err)
	require.Equal(t, key, block.Key)
	require.Equal(t, "Quiz", block.Fields["display_name"])
}

func TestCoursestoreClientErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"not found"}`, http.StatusNotFound)
	}))
	defer server.Close()

	client := NewCoursestoreClient(server.URL, logger.New("error", "text"))
	_, err := client.GetBlock(context.Background(), "block-v1:edX+Demo+2026+type@problem+block@ghost", "")
	require.Error(t, err)
	require.Contains(t, err.Error(), "status=404")
}
