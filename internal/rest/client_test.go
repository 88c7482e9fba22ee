package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/chatcore/internal/model"
)

func newBackend(t *testing.T, register func(chi.Router)) *httptest.Server {
	t.Helper()
	r := chi.NewRouter()
	register(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func TestGetConversations(t *testing.T) {
	var gotAuth string
	srv := newBackend(t, func(r chi.Router) {
		r.Get("/conversations", func(w http.ResponseWriter, req *http.Request) {
			gotAuth = req.Header.Get("Authorization")
			json.NewEncoder(w).Encode([]model.Conversation{
				{ID: "c1", Kind: model.ConversationKindDirect, Participants: []string{"me", "u2"}},
			})
		})
	})

	c := NewClient(srv.URL, "tok-123")
	convs, err := c.GetConversations(context.Background())
	require.NoError(t, err)
	require.Len(t, convs, 1)
	require.Equal(t, "c1", convs[0].ID)
	require.Equal(t, "Bearer tok-123", gotAuth)
}

func TestGetMessagesQueryParams(t *testing.T) {
	srv := newBackend(t, func(r chi.Router) {
		r.Get("/conversations/{id}/messages", func(w http.ResponseWriter, req *http.Request) {
			require.Equal(t, "c1", chi.URLParam(req, "id"))
			require.Equal(t, "25", req.URL.Query().Get("limit"))
			require.Equal(t, "cur1", req.URL.Query().Get("cursor"))
			json.NewEncoder(w).Encode(MessagesPage{
				Messages:   []model.Message{{ID: "m1", ConversationID: "c1", CreatedAt: time.Now()}},
				NextCursor: "cur2",
				HasMore:    true,
			})
		})
	})

	c := NewClient(srv.URL, "tok")
	page, err := c.GetMessages(context.Background(), "c1", 25, "cur1")
	require.NoError(t, err)
	require.Len(t, page.Messages, 1)
	require.Equal(t, "cur2", page.NextCursor)
	require.True(t, page.HasMore)
}

func TestGetMessagesOmitsEmptyParams(t *testing.T) {
	srv := newBackend(t, func(r chi.Router) {
		r.Get("/conversations/{id}/messages", func(w http.ResponseWriter, req *http.Request) {
			require.False(t, req.URL.Query().Has("limit"))
			require.False(t, req.URL.Query().Has("cursor"))
			json.NewEncoder(w).Encode(MessagesPage{})
		})
	})

	c := NewClient(srv.URL, "tok")
	_, err := c.GetMessages(context.Background(), "c1", 0, "")
	require.NoError(t, err)
}

func TestCreateConversation(t *testing.T) {
	srv := newBackend(t, func(r chi.Router) {
		r.Post("/conversations", func(w http.ResponseWriter, req *http.Request) {
			require.Equal(t, "application/json", req.Header.Get("Content-Type"))
			var body map[string]any
			require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
			require.Equal(t, "group", body["type"])
			require.Equal(t, "weekend plans", body["name"])
			require.Len(t, body["participantIds"], 2)

			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(model.Conversation{ID: "c9", Kind: model.ConversationKindGroup, Name: "weekend plans"})
		})
	})

	c := NewClient(srv.URL, "tok")
	conv, err := c.CreateConversation(context.Background(), []string{"u2", "u3"}, model.ConversationKindGroup, "weekend plans")
	require.NoError(t, err)
	require.Equal(t, "c9", conv.ID)
}

func TestSearchUsers(t *testing.T) {
	srv := newBackend(t, func(r chi.Router) {
		r.Get("/users/search", func(w http.ResponseWriter, req *http.Request) {
			require.Equal(t, "ali", req.URL.Query().Get("q"))
			json.NewEncoder(w).Encode([]model.User{{ID: "u7", Username: "alice"}})
		})
	})

	c := NewClient(srv.URL, "tok")
	users, err := c.SearchUsers(context.Background(), "ali")
	require.NoError(t, err)
	require.Len(t, users, 1)
	require.Equal(t, "alice", users[0].Username)
}

func TestNonSuccessStatusIsError(t *testing.T) {
	srv := newBackend(t, func(r chi.Router) {
		r.Get("/conversations", func(w http.ResponseWriter, req *http.Request) {
			http.Error(w, `{"error":"expired token"}`, http.StatusUnauthorized)
		})
	})

	c := NewClient(srv.URL, "stale")
	_, err := c.GetConversations(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "HTTP 401")
	require.Contains(t, err.Error(), "expired token")
}

func TestSetTokenUsedOnNextRequest(t *testing.T) {
	var gotAuth string
	srv := newBackend(t, func(r chi.Router) {
		r.Get("/conversations", func(w http.ResponseWriter, req *http.Request) {
			gotAuth = req.Header.Get("Authorization")
			json.NewEncoder(w).Encode([]model.Conversation{})
		})
	})

	c := NewClient(srv.URL, "old", WithHTTPClient(srv.Client()))
	c.SetToken("fresh")
	_, err := c.GetConversations(context.Background())
	require.NoError(t, err)
	require.Equal(t, "Bearer fresh", gotAuth)
}
