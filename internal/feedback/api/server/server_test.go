package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/feedbackhub/feedback_control/internal/feedback/domain/models"
	"github.com/feedbackhub/feedback_control/internal/feedback/repository/feedbackrepo"
	"github.com/feedbackhub/feedback_control/internal/feedback/repository/ratingcache/redis"
	"github.com/feedbackhub/feedback_control/internal/feedback/repository/userrepo"
	"github.com/feedbackhub/feedback_control/internal/feedback/services/authservice"
	"github.com/feedbackhub/feedback_control/internal/feedback/services/feedbackservice"
	"github.com/feedbackhub/feedback_control/internal/pkg/config"
	"github.com/stretchr/testify/suite"
	"golang.org/x/crypto/bcrypt"
)

type nopLogger struct{}

func (nopLogger) Info(_ ...interface{})             {}
func (nopLogger) Infof(_ string, _ ...interface{})  {}
func (nopLogger) Warnf(_ string, _ ...interface{})  {}
func (nopLogger) Error(_ ...interface{})            {}
func (nopLogger) Errorf(_ string, _ ...interface{}) {}

// memStore backs both the user and the feedback repositories in one
// place so a user delete can cascade into ratings the way the foreign
// keys do in postgres.
type memStore struct {
	users        map[string]models.User
	items        map[int]models.Item
	titles       map[string]int
	ratings      []models.Rating
	lastUserID   int
	lastItemID   int
	lastRatingID int
}

func newMemStore() *memStore {
	return &memStore{
		users:   make(map[string]models.User),
		items:   make(map[int]models.Item),
		titles:  make(map[string]int),
		ratings: make([]models.Rating, 0),
	}
}

func (m *memStore) CreateUser(_ context.Context, u models.User) (int, error) {
	if _, ok := m.users[u.Username]; ok {
		return 0, userrepo.ErrAlreadyExists
	}

	m.lastUserID++
	u.ID = m.lastUserID
	m.users[u.Username] = u

	return u.ID, nil
}

func (m *memStore) GetUser(_ context.Context, username string) (models.User, error) {
	u, ok := m.users[username]
	if !ok {
		return models.User{}, userrepo.ErrNotFound
	}

	return u, nil
}

func (m *memStore) ListUsers(_ context.Context) ([]models.User, error) {
	users := make([]models.User, 0, len(m.users))
	for _, u := range m.users {
		users = append(users, u)
	}

	return users, nil
}

func (m *memStore) DeleteUser(_ context.Context, username string) error {
	u, ok := m.users[username]
	if !ok {
		return userrepo.ErrNotFound
	}

	delete(m.users, username)

	kept := make([]models.Rating, 0, len(m.ratings))

	for _, r := range m.ratings {
		if r.UserID != u.ID {
			kept = append(kept, r)
		}
	}

	m.ratings = kept

	return nil
}

func (m *memStore) CreateItem(_ context.Context, title string) (models.Item, error) {
	if _, ok := m.titles[title]; ok {
		return models.Item{}, feedbackrepo.ErrTitleTaken
	}

	m.lastItemID++
	item := models.Item{ID: m.lastItemID, Title: title}
	m.items[item.ID] = item
	m.titles[title] = item.ID

	return item, nil
}

func (m *memStore) CreateRating(_ context.Context, r models.Rating) (models.Rating, error) {
	if r.Rating < 1 || r.Rating > 5 {
		return models.Rating{}, feedbackrepo.ErrRatingRange
	}

	if _, ok := m.items[r.ItemID]; !ok {
		return models.Rating{}, feedbackrepo.ErrItemNotFound
	}

	for _, existing := range m.ratings {
		if existing.UserID == r.UserID && existing.ItemID == r.ItemID {
			return models.Rating{}, feedbackrepo.ErrAlreadyRated
		}
	}

	m.lastRatingID++
	r.ID = m.lastRatingID
	m.ratings = append(m.ratings, r)

	return r, nil
}

func (m *memStore) RatingsForItem(_ context.Context, itemID int) ([]models.Rating, error) {
	ratings := make([]models.Rating, 0)

	for _, r := range m.ratings {
		if r.ItemID == itemID {
			ratings = append(ratings, r)
		}
	}

	return ratings, nil
}

func (m *memStore) ListItems(_ context.Context) ([]models.Item, error) {
	items := make([]models.Item, 0, len(m.items))
	for _, item := range m.items {
		items = append(items, item)
	}

	return items, nil
}

func (m *memStore) TruncateAll(_ context.Context) error {
	m.users = make(map[string]models.User)
	m.items = make(map[int]models.Item)
	m.titles = make(map[string]int)
	m.ratings = make([]models.Rating, 0)
	m.lastUserID = 0
	m.lastItemID = 0
	m.lastRatingID = 0

	return nil
}

func (m *memStore) Shutdown(_ context.Context) error { return nil }

type memCache struct {
	entries map[int][]models.Rating
}

func newMemCache() *memCache {
	return &memCache{entries: make(map[int][]models.Rating)}
}

func (m *memCache) GetItemRatings(_ context.Context, itemID int) ([]models.Rating, error) {
	ratings, ok := m.entries[itemID]
	if !ok {
		return nil, redis.ErrMiss
	}

	return ratings, nil
}

func (m *memCache) SetItemRatings(_ context.Context, itemID int, ratings []models.Rating) error {
	m.entries[itemID] = ratings

	return nil
}

func (m *memCache) DeleteItemRatings(_ context.Context, itemID int) error {
	delete(m.entries, itemID)

	return nil
}

func (m *memCache) Flush(_ context.Context) error {
	m.entries = make(map[int][]models.Rating)

	return nil
}

type ServerSuite struct {
	suite.Suite
	srv *Server
}

func (ss *ServerSuite) SetupTest() {
	store := newMemStore()

	authCfg := config.Auth{
		TTL:        time.Minute * 30,
		Secret:     "test-secret",
		BcryptCost: bcrypt.MinCost,
	}

	as := authservice.New(store, authCfg)
	fs := feedbackservice.New(store, newMemCache(), nopLogger{})

	serverCfg := config.Server{
		Addr:         "127.0.0.1:0",
		ReadTimeout:  time.Second * 10,
		WriteTimeout: time.Second * 10,
		IdleTimeout:  time.Second * 30,
	}

	ss.srv = New(serverCfg, fs, as, nopLogger{})
}

func (ss *ServerSuite) do(method, path, contentType string, body io.Reader, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, body)

	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rr := httptest.NewRecorder()
	ss.srv.serv.Handler.ServeHTTP(rr, req)

	return rr
}

func (ss *ServerSuite) doJSON(method, path, body, token string) *httptest.ResponseRecorder {
	return ss.do(method, path, "application/json", strings.NewReader(body), token)
}

func (ss *ServerSuite) register(username, password string) RegisterResponse {
	rr := ss.doJSON(http.MethodPost, "/register",
		`{"username":"`+username+`","password":"`+password+`"}`, "")
	ss.Require().Equal(http.StatusOK, rr.Code)

	var resp RegisterResponse
	ss.Require().NoError(json.Unmarshal(rr.Body.Bytes(), &resp))

	return resp
}

func (ss *ServerSuite) login(username, password string) string {
	form := url.Values{"username": {username}, "password": {password}}

	rr := ss.do(http.MethodPost, "/token", "application/x-www-form-urlencoded",
		strings.NewReader(form.Encode()), "")
	ss.Require().Equal(http.StatusOK, rr.Code)

	var resp TokenResponse
	ss.Require().NoError(json.Unmarshal(rr.Body.Bytes(), &resp))
	ss.Require().Equal("bearer", resp.TokenType)
	ss.Require().Equal(username, resp.Username)

	return resp.AccessToken
}

func (ss *ServerSuite) TestRegisterLoginRateFlow() {
	reg := ss.register("alice", "pw1")
	ss.Require().Equal(1, reg.ID)
	ss.Require().Equal("alice", reg.Username)

	rr := ss.doJSON(http.MethodPost, "/items", `{"title":"Widget"}`, "")
	ss.Require().Equal(http.StatusOK, rr.Code)

	var item models.Item
	ss.Require().NoError(json.Unmarshal(rr.Body.Bytes(), &item))
	ss.Require().Equal(1, item.ID)
	ss.Require().Equal("Widget", item.Title)

	token := ss.login("alice", "pw1")

	rr = ss.doJSON(http.MethodPost, "/feedback", `{"item_id":1,"rating":4}`, token)
	ss.Require().Equal(http.StatusOK, rr.Code)

	var rating models.Rating
	ss.Require().NoError(json.Unmarshal(rr.Body.Bytes(), &rating))
	ss.Require().Equal(models.Rating{ID: 1, UserID: 1, ItemID: 1, Rating: 4}, rating)

	rr = ss.doJSON(http.MethodGet, "/feedback/1", "", "")
	ss.Require().Equal(http.StatusOK, rr.Code)

	var ratings []models.Rating
	ss.Require().NoError(json.Unmarshal(rr.Body.Bytes(), &ratings))
	ss.Require().Len(ratings, 1)
	ss.Require().Equal(4, ratings[0].Rating)
}

func (ss *ServerSuite) TestRegisterDuplicate() {
	ss.register("alice", "pw1")

	rr := ss.doJSON(http.MethodPost, "/register", `{"username":"alice","password":"pw2"}`, "")
	ss.Require().Equal(http.StatusBadRequest, rr.Code)
	ss.Require().Contains(rr.Body.String(), "already exists")
}

func (ss *ServerSuite) TestRegisterMissingFields() {
	rr := ss.doJSON(http.MethodPost, "/register", `{"username":"alice"}`, "")
	ss.Require().Equal(http.StatusBadRequest, rr.Code)
}

func (ss *ServerSuite) TestLoginWrongPassword() {
	ss.register("alice", "pw1")

	form := url.Values{"username": {"alice"}, "password": {"wrong"}}

	rr := ss.do(http.MethodPost, "/token", "application/x-www-form-urlencoded",
		strings.NewReader(form.Encode()), "")
	ss.Require().Equal(http.StatusUnauthorized, rr.Code)
	ss.Require().Equal("Bearer", rr.Header().Get("WWW-Authenticate"))
}

func (ss *ServerSuite) TestListUsers() {
	ss.register("alice", "pw1")
	ss.register("bob", "pw2")

	rr := ss.doJSON(http.MethodGet, "/user", "", "")
	ss.Require().Equal(http.StatusOK, rr.Code)

	var resp ListUsersResponse
	ss.Require().NoError(json.Unmarshal(rr.Body.Bytes(), &resp))
	ss.Require().Len(resp.Users, 2)

	// Хэши паролей наружу не отдаются.
	ss.Require().NotContains(rr.Body.String(), "password")
}

func (ss *ServerSuite) TestItemDuplicateTitle() {
	rr := ss.doJSON(http.MethodPost, "/items", `{"title":"Widget"}`, "")
	ss.Require().Equal(http.StatusOK, rr.Code)

	rr = ss.doJSON(http.MethodPost, "/items", `{"title":"Widget"}`, "")
	ss.Require().Equal(http.StatusBadRequest, rr.Code)
}

func (ss *ServerSuite) TestFeedbackRequiresToken() {
	rr := ss.doJSON(http.MethodPost, "/feedback", `{"item_id":1,"rating":4}`, "")
	ss.Require().Equal(http.StatusUnauthorized, rr.Code)
	ss.Require().Equal("Bearer", rr.Header().Get("WWW-Authenticate"))

	rr = ss.doJSON(http.MethodPost, "/feedback", `{"item_id":1,"rating":4}`, "garbage")
	ss.Require().Equal(http.StatusUnauthorized, rr.Code)
	ss.Require().Equal("Bearer", rr.Header().Get("WWW-Authenticate"))
}

func (ss *ServerSuite) TestFeedbackRatingOutOfRange() {
	ss.register("alice", "pw1")
	token := ss.login("alice", "pw1")

	rr := ss.doJSON(http.MethodPost, "/items", `{"title":"Widget"}`, "")
	ss.Require().Equal(http.StatusOK, rr.Code)

	for _, body := range []string{`{"item_id":1,"rating":0}`, `{"item_id":1,"rating":6}`} {
		rr = ss.doJSON(http.MethodPost, "/feedback", body, token)
		ss.Require().Equal(http.StatusBadRequest, rr.Code)
		ss.Require().Contains(rr.Body.String(), "between 1 and 5")
	}
}

func (ss *ServerSuite) TestFeedbackDuplicatePair() {
	ss.register("alice", "pw1")
	token := ss.login("alice", "pw1")

	rr := ss.doJSON(http.MethodPost, "/items", `{"title":"Widget"}`, "")
	ss.Require().Equal(http.StatusOK, rr.Code)

	rr = ss.doJSON(http.MethodPost, "/feedback", `{"item_id":1,"rating":4}`, token)
	ss.Require().Equal(http.StatusOK, rr.Code)

	rr = ss.doJSON(http.MethodPost, "/feedback", `{"item_id":1,"rating":5}`, token)
	ss.Require().Equal(http.StatusBadRequest, rr.Code)
	ss.Require().Contains(rr.Body.String(), "already rated")
}

func (ss *ServerSuite) TestFeedbackUnknownItemListsEmpty() {
	rr := ss.doJSON(http.MethodGet, "/feedback/99", "", "")
	ss.Require().Equal(http.StatusOK, rr.Code)
	ss.Require().JSONEq(`[]`, rr.Body.String())
}

func (ss *ServerSuite) TestFeedbackBadItemID() {
	rr := ss.doJSON(http.MethodGet, "/feedback/abc", "", "")
	ss.Require().Equal(http.StatusBadRequest, rr.Code)
}

func (ss *ServerSuite) TestDeleteMeCascades() {
	ss.register("alice", "pw1")
	token := ss.login("alice", "pw1")

	rr := ss.doJSON(http.MethodPost, "/items", `{"title":"Widget"}`, "")
	ss.Require().Equal(http.StatusOK, rr.Code)

	rr = ss.doJSON(http.MethodPost, "/feedback", `{"item_id":1,"rating":4}`, token)
	ss.Require().Equal(http.StatusOK, rr.Code)

	rr = ss.doJSON(http.MethodDelete, "/user/delete/me", "", token)
	ss.Require().Equal(http.StatusOK, rr.Code)
	ss.Require().Contains(rr.Body.String(), "successfully deleted")

	// Пользователь пропадает из списка.
	rr = ss.doJSON(http.MethodGet, "/user", "", "")
	ss.Require().Equal(http.StatusOK, rr.Code)

	var users ListUsersResponse
	ss.Require().NoError(json.Unmarshal(rr.Body.Bytes(), &users))
	ss.Require().Empty(users.Users)

	// Его оценки больше недоступны.
	rr = ss.doJSON(http.MethodGet, "/feedback/1", "", "")
	ss.Require().Equal(http.StatusOK, rr.Code)
	ss.Require().JSONEq(`[]`, rr.Body.String())

	// Старый токен остаётся подписанным, но subject уже не существует.
	rr = ss.doJSON(http.MethodPost, "/feedback", `{"item_id":1,"rating":4}`, token)
	ss.Require().Equal(http.StatusUnauthorized, rr.Code)
	ss.Require().Equal("Bearer", rr.Header().Get("WWW-Authenticate"))
}

func (ss *ServerSuite) TestClean() {
	ss.register("alice", "pw1")

	rr := ss.doJSON(http.MethodPost, "/items", `{"title":"Widget"}`, "")
	ss.Require().Equal(http.StatusOK, rr.Code)

	rr = ss.doJSON(http.MethodPost, "/clean", "", "")
	ss.Require().Equal(http.StatusOK, rr.Code)
	ss.Require().Contains(rr.Body.String(), "cleaned successfully")

	rr = ss.doJSON(http.MethodGet, "/user", "", "")
	ss.Require().Equal(http.StatusOK, rr.Code)

	var users ListUsersResponse
	ss.Require().NoError(json.Unmarshal(rr.Body.Bytes(), &users))
	ss.Require().Empty(users.Users)

	// Идентификаторы начинаются заново.
	rr = ss.doJSON(http.MethodPost, "/items", `{"title":"Widget"}`, "")
	ss.Require().Equal(http.StatusOK, rr.Code)

	var item models.Item
	ss.Require().NoError(json.Unmarshal(rr.Body.Bytes(), &item))
	ss.Require().Equal(1, item.ID)
}

func TestServerSuite(t *testing.T) {
	suite.Run(t, new(ServerSuite))
}
