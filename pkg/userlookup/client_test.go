package userlookup

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newLookupServer(t *testing.T, avatarOK bool) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/usernames/users", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		var body struct {
			Usernames []string `json:"usernames"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if len(body.Usernames) != 1 || body.Usernames[0] != "builderman" {
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"data": []interface{}{}})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"data": []map[string]interface{}{{"id": 156, "displayName": "Builderman"}},
		})
	})
	mux.HandleFunc("/v1/users/156", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"name":        "builderman",
			"displayName": "Builderman",
			"created":     "2006-03-08T13:00:00Z",
			"description": "Welcome!",
		})
	})
	mux.HandleFunc("/v1/users/avatar-headshot", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if !avatarOK {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"data": []map[string]string{{"imageUrl": "https://cdn.example/headshot.png"}},
		})
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestLookupChainsAllThreeCalls(t *testing.T) {
	server := newLookupServer(t, true)
	client := NewClient(server.URL, server.URL, 5*time.Second)

	profile, err := client.Lookup(context.Background(), "  @builderman ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if profile.ID != 156 || profile.Username != "builderman" || profile.DisplayName != "Builderman" {
		t.Fatalf("profile not assembled: %+v", profile)
	}
	if profile.AvatarURL != "https://cdn.example/headshot.png" {
		t.Fatalf("expected thumbnail url, got %q", profile.AvatarURL)
	}
	if profile.CreatedAt != "2006-03-08T13:00:00Z" || profile.Description != "Welcome!" {
		t.Fatalf("details not passed through: %+v", profile)
	}
}

func TestLookupFallsBackWhenAvatarFails(t *testing.T) {
	server := newLookupServer(t, false)
	client := NewClient(server.URL, server.URL, 5*time.Second)

	profile, err := client.Lookup(context.Background(), "builderman")
	if err != nil {
		t.Fatalf("avatar failure must not fail the lookup: %v", err)
	}
	if profile.AvatarURL == "" || profile.AvatarURL == "https://cdn.example/headshot.png" {
		t.Fatalf("expected fallback avatar url, got %q", profile.AvatarURL)
	}
}

func TestLookupUnknownUser(t *testing.T) {
	server := newLookupServer(t, true)
	client := NewClient(server.URL, server.URL, 5*time.Second)

	_, err := client.Lookup(context.Background(), "nosuchplayer")
	if !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestLookupBlankUsername(t *testing.T) {
	client := NewClient("http://unused", "http://unused", time.Second)
	if _, err := client.Lookup(context.Background(), "  @ "); !errors.Is(err, ErrUsernameRequired) {
		t.Fatalf("expected ErrUsernameRequired, got %v", err)
	}
}
