package http

import (
	"bytes"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"testing"

	"github.com/vovakirdan/roomfeed/internal/gif"
	"github.com/vovakirdan/roomfeed/internal/proto"
)

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t, 0)

	resp, err := env.ts.Client().Get(env.ts.URL + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(body) != "ok" {
		t.Fatalf("unexpected health response: %d %q", resp.StatusCode, body)
	}
}

func TestSignUpAndSignIn(t *testing.T) {
	env := newTestEnv(t, 0)

	token, uid := env.signUp(t, "Alice@Example.com", "Alice")
	if token == "" || uid == "" {
		t.Fatal("missing token or uid")
	}

	if status := env.do(t, http.MethodPost, "/api/signup", "", map[string]string{
		"email": "alice@example.com", "password": "secret123", "display_name": "Again",
	}, nil); status != http.StatusConflict {
		t.Fatalf("duplicate signup status = %d", status)
	}
	if status := env.do(t, http.MethodPost, "/api/signup", "", map[string]string{
		"email": "not-an-email", "password": "secret123", "display_name": "X",
	}, nil); status != http.StatusBadRequest {
		t.Fatalf("invalid email status = %d", status)
	}

	var resp AuthResponse
	if status := env.do(t, http.MethodPost, "/api/signin", "", map[string]string{
		"email": "alice@example.com", "password": "secret123",
	}, &resp); status != http.StatusOK {
		t.Fatalf("signin status = %d", status)
	}
	if resp.User.UID != uid || resp.User.Email != "alice@example.com" {
		t.Fatalf("signin user = %+v", resp.User)
	}

	if status := env.do(t, http.MethodPost, "/api/signin", "", map[string]string{
		"email": "alice@example.com", "password": "wrong-pass",
	}, nil); status != http.StatusUnauthorized {
		t.Fatalf("bad password status = %d", status)
	}
}

func TestAuthRequired(t *testing.T) {
	env := newTestEnv(t, 0)

	if status := env.do(t, http.MethodGet, "/api/me", "", nil, nil); status != http.StatusUnauthorized {
		t.Fatalf("no token status = %d", status)
	}
	if status := env.do(t, http.MethodGet, "/api/me", "garbage", nil, nil); status != http.StatusUnauthorized {
		t.Fatalf("bad token status = %d", status)
	}
}

func TestProfileAndDirectory(t *testing.T) {
	env := newTestEnv(t, 0)
	aliceToken, aliceUID := env.signUp(t, "alice@example.com", "Alice")
	_, bobUID := env.signUp(t, "bob@example.com", "Bob")

	addr := "Main St"
	var me UserResponse
	if status := env.do(t, http.MethodPut, "/api/me", aliceToken, UpdateProfileRequest{Address: &addr}, &me); status != http.StatusOK {
		t.Fatalf("update status = %d", status)
	}
	if me.Address != "Main St" || me.DisplayName != "Alice" {
		t.Fatalf("profile = %+v", me)
	}

	var bob UserResponse
	if status := env.do(t, http.MethodGet, "/api/users/"+bobUID, aliceToken, nil, &bob); status != http.StatusOK {
		t.Fatalf("get user status = %d", status)
	}
	if bob.DisplayName != "Bob" || bob.Email != "" {
		t.Fatalf("other user's details leaked: %+v", bob)
	}

	var users []UserResponse
	if status := env.do(t, http.MethodGet, "/api/users", aliceToken, nil, &users); status != http.StatusOK {
		t.Fatalf("list users status = %d", status)
	}
	if len(users) != 2 {
		t.Fatalf("users = %+v", users)
	}
	for _, u := range users {
		if u.UID == aliceUID && u.Email == "" {
			t.Fatal("own email should be included")
		}
	}

	if status := env.do(t, http.MethodGet, "/api/users/ghost", aliceToken, nil, nil); status != http.StatusNotFound {
		t.Fatalf("missing user status = %d", status)
	}
}

func TestBlockEndpoints(t *testing.T) {
	env := newTestEnv(t, 0)
	aliceToken, aliceUID := env.signUp(t, "alice@example.com", "Alice")
	_, bobUID := env.signUp(t, "bob@example.com", "Bob")

	if status := env.do(t, http.MethodPost, "/api/blocks/"+aliceUID, aliceToken, nil, nil); status != http.StatusBadRequest {
		t.Fatalf("self block status = %d", status)
	}
	if status := env.do(t, http.MethodPost, "/api/blocks/"+bobUID, aliceToken, nil, nil); status != http.StatusNoContent {
		t.Fatalf("block status = %d", status)
	}

	var blocks BlocksResponse
	if status := env.do(t, http.MethodGet, "/api/blocks", aliceToken, nil, &blocks); status != http.StatusOK {
		t.Fatalf("list blocks status = %d", status)
	}
	if len(blocks.Blocked) != 1 || blocks.Blocked[0] != bobUID {
		t.Fatalf("blocks = %+v", blocks)
	}

	if status := env.do(t, http.MethodDelete, "/api/blocks/"+bobUID, aliceToken, nil, nil); status != http.StatusNoContent {
		t.Fatalf("unblock status = %d", status)
	}
}

func TestGroupsAndMessages(t *testing.T) {
	env := newTestEnv(t, 0)
	aliceToken, _ := env.signUp(t, "alice@example.com", "Alice")
	bobToken, bobUID := env.signUp(t, "bob@example.com", "Bob")

	var g GroupResponse
	if status := env.do(t, http.MethodPost, "/api/groups", aliceToken, CreateGroupRequest{Name: "team"}, &g); status != http.StatusCreated {
		t.Fatalf("create group status = %d", status)
	}
	if status := env.do(t, http.MethodPost, "/api/messages", bobToken, SendMessageRequest{Room: g.ID, Text: "hi"}, nil); status != http.StatusForbidden {
		t.Fatalf("non-member post status = %d", status)
	}
	if status := env.do(t, http.MethodPost, "/api/groups/"+g.ID+"/members", aliceToken, AddMembersRequest{Members: []string{bobUID}}, &g); status != http.StatusOK {
		t.Fatalf("add members status = %d", status)
	}
	if len(g.Members) != 2 {
		t.Fatalf("members = %v", g.Members)
	}

	var msg proto.Message
	if status := env.do(t, http.MethodPost, "/api/messages", bobToken, SendMessageRequest{Room: g.ID, Text: "hi"}, &msg); status != http.StatusCreated {
		t.Fatalf("member post status = %d", status)
	}
	if msg.Room != g.ID || msg.AuthorName != "Bob" || msg.Text != "hi" {
		t.Fatalf("message = %+v", msg)
	}

	var gifMsg proto.Message
	if status := env.do(t, http.MethodPost, "/api/messages", aliceToken, SendMessageRequest{GifURL: "https://g/x.gif"}, &gifMsg); status != http.StatusCreated {
		t.Fatalf("gif post status = %d", status)
	}
	if gifMsg.Room != proto.DefaultRoomName || gifMsg.GifURL == "" {
		t.Fatalf("gif message = %+v", gifMsg)
	}

	if status := env.do(t, http.MethodPost, "/api/messages", aliceToken, SendMessageRequest{Text: "  "}, nil); status != http.StatusBadRequest {
		t.Fatalf("blank message status = %d", status)
	}
	if status := env.do(t, http.MethodPost, "/api/messages", aliceToken, SendMessageRequest{Room: "missing", Text: "x"}, nil); status != http.StatusNotFound {
		t.Fatalf("missing room status = %d", status)
	}

	if status := env.do(t, http.MethodDelete, "/api/messages/"+msg.ID, aliceToken, nil, nil); status != http.StatusForbidden {
		t.Fatalf("foreign delete status = %d", status)
	}
	if status := env.do(t, http.MethodDelete, "/api/messages/"+msg.ID, bobToken, nil, nil); status != http.StatusNoContent {
		t.Fatalf("delete status = %d", status)
	}

	var cleared ClearRoomResponse
	if status := env.do(t, http.MethodDelete, "/api/rooms/default/messages", bobToken, nil, &cleared); status != http.StatusOK {
		t.Fatalf("clear status = %d", status)
	}
	if cleared.Deleted != 1 {
		t.Fatalf("cleared = %d", cleared.Deleted)
	}

	var groups []GroupResponse
	if status := env.do(t, http.MethodGet, "/api/groups", bobToken, nil, &groups); status != http.StatusOK || len(groups) != 1 {
		t.Fatalf("list groups = %d, %+v", status, groups)
	}
	if status := env.do(t, http.MethodGet, "/api/groups/nope", bobToken, nil, nil); status != http.StatusNotFound {
		t.Fatalf("missing group status = %d", status)
	}
}

func TestImageUpload(t *testing.T) {
	env := newTestEnv(t, 0)
	token, _ := env.signUp(t, "alice@example.com", "Alice")

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("room", "default"); err != nil {
		t.Fatalf("write field: %v", err)
	}
	fw, err := mw.CreateFormFile("file", "cat.png")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	_, _ = fw.Write([]byte("png-bytes"))
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}

	req, err := http.NewRequest(http.MethodPost, env.ts.URL+"/api/messages/image", &buf)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := env.ts.Client().Do(req)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("upload status = %d: %s", resp.StatusCode, body)
	}

	// The stored file is served back under /media.
	var msg proto.Message
	if err := decodeJSON(resp.Body, &msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !strings.HasPrefix(msg.ImageURL, "/media/chat_images/") || !strings.HasSuffix(msg.ImageURL, "_cat.png") {
		t.Fatalf("image url = %s", msg.ImageURL)
	}
	got, err := env.ts.Client().Get(env.ts.URL + msg.ImageURL)
	if err != nil {
		t.Fatalf("fetch media: %v", err)
	}
	defer got.Body.Close()
	data, _ := io.ReadAll(got.Body)
	if got.StatusCode != http.StatusOK || string(data) != "png-bytes" {
		t.Fatalf("media response = %d %q", got.StatusCode, data)
	}
}

func TestGIFSearchAndDevices(t *testing.T) {
	env := newTestEnv(t, 0)
	token, _ := env.signUp(t, "alice@example.com", "Alice")

	var results []gif.Result
	if status := env.do(t, http.MethodGet, "/api/gifs?q=cats", token, nil, &results); status != http.StatusOK {
		t.Fatalf("gif status = %d", status)
	}
	if len(results) != 1 || results[0].ID != "s1" {
		t.Fatalf("results = %+v", results)
	}
	if status := env.do(t, http.MethodGet, "/api/gifs", token, nil, &results); status != http.StatusOK || results[0].ID != "f1" {
		t.Fatalf("featured = %d %+v", status, results)
	}

	if status := env.do(t, http.MethodPost, "/api/devices", token, RegisterDeviceRequest{Token: "device-1"}, nil); status != http.StatusNoContent {
		t.Fatalf("register device status = %d", status)
	}
	if status := env.do(t, http.MethodDelete, "/api/devices/device-1", token, nil, nil); status != http.StatusNoContent {
		t.Fatalf("unregister device status = %d", status)
	}
}

func TestRateLimitOnWrites(t *testing.T) {
	env := newTestEnv(t, 2)
	token, _ := env.signUp(t, "alice@example.com", "Alice")

	for i := 0; i < 2; i++ {
		if status := env.do(t, http.MethodPost, "/api/messages", token, SendMessageRequest{Text: "spam"}, nil); status != http.StatusCreated {
			t.Fatalf("message %d status = %d", i, status)
		}
	}
	if status := env.do(t, http.MethodPost, "/api/messages", token, SendMessageRequest{Text: "spam"}, nil); status != http.StatusTooManyRequests {
		t.Fatalf("over limit status = %d", status)
	}
	// Reads are not limited.
	if status := env.do(t, http.MethodGet, "/api/me", token, nil, nil); status != http.StatusOK {
		t.Fatalf("read status = %d", status)
	}
}
