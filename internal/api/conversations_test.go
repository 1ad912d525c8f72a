package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wavechat/chatkit/pkg/types"
)

// fakeConversationServer implements get-or-create semantics keyed by the
// unordered participant pair.
func fakeConversationServer(t *testing.T) *httptest.Server {
	t.Helper()
	conversations := map[string]types.Conversation{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/conversations/one-to-one":
			pair := []string{r.URL.Query().Get("senderId"), r.URL.Query().Get("receiverId")}
			sort.Strings(pair)
			key := strings.Join(pair, "|")
			conv, ok := conversations[key]
			if !ok {
				conv = types.Conversation{
					ID:   "conv-" + key,
					Type: types.ConversationPrivate,
					Members: []types.UserSummary{
						{ID: pair[0]}, {ID: pair[1]},
					},
				}
				conversations[key] = conv
			}
			writeEnvelope(w, true, "", conv)
		default:
			http.NotFound(w, r)
		}
	}))
}

func TestGetOrCreatePrivate_IdempotentAcrossParticipantOrder(t *testing.T) {
	t.Parallel()

	server := fakeConversationServer(t)
	defer server.Close()

	c := NewClient(server.URL, "tok")
	ctx := context.Background()

	first, err := c.GetOrCreatePrivate(ctx, "alice", "bob")
	require.NoError(t, err)
	require.NotEmpty(t, first.ID)

	second, err := c.GetOrCreatePrivate(ctx, "bob", "alice")
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
}

func TestAddMember_PostsJSONBody(t *testing.T) {
	t.Parallel()

	var got map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/conversation-members/add", r.URL.Path)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, decodeJSONBody(r, &got))
		writeEnvelope(w, true, "", nil)
	}))
	defer server.Close()

	c := NewClient(server.URL, "tok")
	require.NoError(t, c.AddMember(context.Background(), "c1", "u9"))
	require.Equal(t, map[string]string{"conversationId": "c1", "userId": "u9"}, got)
}
