package sqlstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/suite"

	"news_narrator/internal/config"
	"news_narrator/internal/domain"
	"news_narrator/internal/service"
)

var (
	_ service.TaskStore          = (*TaskStore)(nil)
	_ service.ArticleStore       = (*ArticleStore)(nil)
	_ service.TransactionManager = (*TransactionManager)(nil)
)

type SQLiteStoreSuite struct {
	suite.Suite
	ctx      context.Context
	db       *sqlx.DB
	tasks    *TaskStore
	articles *ArticleStore
	tm       *TransactionManager
	now      time.Time
}

func (s *SQLiteStoreSuite) SetupTest() {
	s.ctx = context.Background()

	db, err := Open(s.ctx, config.DatabaseConfig{
		Driver: config.DriverSQLite,
		Path:   filepath.Join(s.T().TempDir(), "narrator.db"),
	})
	s.Require().NoError(err)
	s.Require().NoError(Migrate(s.ctx, db))
	s.db = db

	s.now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return s.now }

	s.tasks = NewTaskStore(db)
	s.tasks.now = clock
	s.articles = NewArticleStore(db)
	s.articles.now = clock
	s.tm = NewTransactionManager(db)
}

func (s *SQLiteStoreSuite) TearDownTest() {
	if s.db != nil {
		s.db.Close()
	}
}

func TestSQLiteStoreSuite(t *testing.T) {
	suite.Run(t, new(SQLiteStoreSuite))
}

func (s *SQLiteStoreSuite) createTask(id string, status domain.TaskStatus, updated time.Time) *domain.Task {
	task := &domain.Task{
		ID:        id,
		Origin:    domain.OriginText,
		Status:    status,
		CreatedAt: updated,
		UpdatedAt: updated,
	}
	s.Require().NoError(s.tasks.Create(s.ctx, task))
	return task
}

func (s *SQLiteStoreSuite) createArticle(id, taskID string, status domain.ArticleStatus, updated time.Time) *domain.Article {
	a := &domain.Article{
		ID:            id,
		TaskID:        taskID,
		SourceTitle:   "Title " + id,
		SourceContent: "Body of " + id,
		Status:        status,
		CreatedAt:     updated,
		UpdatedAt:     updated,
	}
	s.Require().NoError(s.articles.Create(s.ctx, a))
	return a
}

func (s *SQLiteStoreSuite) TestMigrateIsRepeatable() {
	s.NoError(Migrate(s.ctx, s.db))
}

func (s *SQLiteStoreSuite) TestTaskRoundTrip() {
	msg := "boom"
	task := &domain.Task{
		ID:           "t1",
		Origin:       "https://example.com/news",
		Status:       domain.TaskPending,
		ArticleCount: 3,
		Narrate:      true,
		ErrorMessage: &msg,
		CreatedAt:    s.now,
		UpdatedAt:    s.now,
	}
	s.Require().NoError(s.tasks.Create(s.ctx, task))

	got, err := s.tasks.Get(s.ctx, "t1")
	s.Require().NoError(err)
	s.Equal(task, got)

	_, err = s.tasks.Get(s.ctx, "missing")
	s.ErrorIs(err, domain.ErrNotFound)
}

func (s *SQLiteStoreSuite) TestTaskList() {
	for i, id := range []string{"a", "b", "c"} {
		s.createTask(id, domain.TaskPending, s.now.Add(time.Duration(i)*time.Minute))
	}

	page, total, err := s.tasks.List(s.ctx, 0, 2)
	s.Require().NoError(err)
	s.Equal(3, total)
	s.Require().Len(page, 2)
	s.Equal("c", page[0].ID)
	s.Equal("b", page[1].ID)

	page, _, err = s.tasks.List(s.ctx, 2, 2)
	s.Require().NoError(err)
	s.Require().Len(page, 1)
	s.Equal("a", page[0].ID)
}

func (s *SQLiteStoreSuite) TestTaskSetStatus() {
	s.createTask("t1", domain.TaskPending, s.now)

	s.NoError(s.tasks.SetStatus(s.ctx, "t1", []domain.TaskStatus{domain.TaskPending, domain.TaskCrawling}, domain.TaskCrawling))
	s.ErrorIs(s.tasks.SetStatus(s.ctx, "t1", []domain.TaskStatus{domain.TaskPending}, domain.TaskTranslating), domain.ErrConflict)
	s.ErrorIs(s.tasks.SetStatus(s.ctx, "nope", []domain.TaskStatus{domain.TaskPending}, domain.TaskCrawling), domain.ErrNotFound)

	got, err := s.tasks.Get(s.ctx, "t1")
	s.Require().NoError(err)
	s.Equal(domain.TaskCrawling, got.Status)
}

func (s *SQLiteStoreSuite) TestTaskMarkFailedKeepsFirstReason() {
	s.createTask("t1", domain.TaskTranslating, s.now)

	s.NoError(s.tasks.MarkFailed(s.ctx, "t1", "first"))
	s.NoError(s.tasks.MarkFailed(s.ctx, "t1", "second"))

	got, err := s.tasks.Get(s.ctx, "t1")
	s.Require().NoError(err)
	s.Equal(domain.TaskFailed, got.Status)
	s.Require().NotNil(got.ErrorMessage)
	s.Equal("first", *got.ErrorMessage)
}

func (s *SQLiteStoreSuite) TestTaskRefresh() {
	cases := []struct {
		name     string
		articles []domain.ArticleStatus
		want     domain.TaskStatus
	}{
		{"all completed", []domain.ArticleStatus{domain.ArticleCompleted, domain.ArticleCompleted}, domain.TaskCompleted},
		{"one failed", []domain.ArticleStatus{domain.ArticleCompleted, domain.ArticleFailed}, domain.TaskFailed},
		{"narrating", []domain.ArticleStatus{domain.ArticleGenerating, domain.ArticleTranslating}, domain.TaskGenerating},
		{"translating", []domain.ArticleStatus{domain.ArticleCompleted, domain.ArticlePending}, domain.TaskTranslating},
	}

	for i, tc := range cases {
		taskID := string(rune('a' + i))
		s.createTask(taskID, domain.TaskTranslating, s.now)
		for j, st := range tc.articles {
			s.createArticle(taskID+string(rune('0'+j)), taskID, st, s.now)
		}

		s.Require().NoError(s.tasks.Refresh(s.ctx, taskID), tc.name)

		got, err := s.tasks.Get(s.ctx, taskID)
		s.Require().NoError(err)
		s.Equal(tc.want, got.Status, tc.name)
	}
}

func (s *SQLiteStoreSuite) TestTaskRefreshLeavesTerminalAndEmptyTasks() {
	s.createTask("done", domain.TaskCompleted, s.now)
	s.createArticle("d1", "done", domain.ArticleGenerating, s.now)
	s.createTask("empty", domain.TaskCrawling, s.now)

	s.NoError(s.tasks.Refresh(s.ctx, "done"))
	s.NoError(s.tasks.Refresh(s.ctx, "empty"))

	done, err := s.tasks.Get(s.ctx, "done")
	s.Require().NoError(err)
	s.Equal(domain.TaskCompleted, done.Status)
	empty, err := s.tasks.Get(s.ctx, "empty")
	s.Require().NoError(err)
	s.Equal(domain.TaskCrawling, empty.Status)
}

func (s *SQLiteStoreSuite) TestTaskListStale() {
	s.createTask("old", domain.TaskPending, s.now.Add(-2*time.Hour))
	s.createTask("fresh", domain.TaskPending, s.now)
	s.createTask("old-done", domain.TaskCompleted, s.now.Add(-2*time.Hour))

	stale, err := s.tasks.ListStale(s.ctx, []domain.TaskStatus{domain.TaskPending, domain.TaskCrawling}, s.now.Add(-time.Hour))
	s.Require().NoError(err)
	s.Require().Len(stale, 1)
	s.Equal("old", stale[0].ID)
}

func (s *SQLiteStoreSuite) TestArticleRoundTrip() {
	s.createTask("t1", domain.TaskPending, s.now)
	source := "https://example.com/a"
	author := "Jane Doe"
	published := s.now.Add(-24 * time.Hour)
	a := &domain.Article{
		ID:            "a1",
		TaskID:        "t1",
		SourceTitle:   "Headline",
		SourceContent: "多语言 content",
		SourceURL:     &source,
		Author:        &author,
		PublishedAt:   &published,
		Status:        domain.ArticlePending,
		CreatedAt:     s.now,
		UpdatedAt:     s.now,
	}
	s.Require().NoError(s.articles.Create(s.ctx, a))

	got, err := s.articles.Get(s.ctx, "a1")
	s.Require().NoError(err)
	s.Equal(a, got)

	_, err = s.articles.Get(s.ctx, "missing")
	s.ErrorIs(err, domain.ErrNotFound)
}

func (s *SQLiteStoreSuite) TestArticleUpdateIsCompareAndSet() {
	s.createTask("t1", domain.TaskPending, s.now)
	a := s.createArticle("a1", "t1", domain.ArticlePending, s.now.Add(-time.Hour))

	started := s.now
	a.Status = domain.ArticleTranslating
	a.TranslationStartedAt = &started
	s.Require().NoError(s.articles.Update(s.ctx, a, domain.ArticlePending))
	s.Equal(s.now, a.UpdatedAt)

	title, content := "标题", "内容"
	a.TranslatedTitle = &title
	a.TranslatedContent = &content
	a.Status = domain.ArticleCompleted
	a.Progress = 100

	s.ErrorIs(s.articles.Update(s.ctx, a, domain.ArticlePending), domain.ErrConflict)
	s.Require().NoError(s.articles.Update(s.ctx, a, domain.ArticleTranslating))

	got, err := s.articles.Get(s.ctx, "a1")
	s.Require().NoError(err)
	s.Equal(domain.ArticleCompleted, got.Status)
	s.Equal(100, got.Progress)
	s.Equal("内容", *got.TranslatedContent)
	s.Equal(started, *got.TranslationStartedAt)

	missing := &domain.Article{ID: "nope", Status: domain.ArticleCompleted}
	s.ErrorIs(s.articles.Update(s.ctx, missing, domain.ArticlePending), domain.ErrNotFound)
}

func (s *SQLiteStoreSuite) TestArticleUpdateProgressNeverDecreases() {
	s.createTask("t1", domain.TaskTranslating, s.now)
	s.createArticle("a1", "t1", domain.ArticleTranslating, s.now)

	for _, v := range []int{10, 40, 30, 70} {
		s.Require().NoError(s.articles.UpdateProgress(s.ctx, "a1", domain.ArticleTranslating, v))
	}
	// wrong stage is ignored
	s.Require().NoError(s.articles.UpdateProgress(s.ctx, "a1", domain.ArticleGenerating, 90))

	got, err := s.articles.Get(s.ctx, "a1")
	s.Require().NoError(err)
	s.Equal(70, got.Progress)
}

func (s *SQLiteStoreSuite) TestArticleReclaimOnlyStaleAndKeepsProgress() {
	s.createTask("t1", domain.TaskTranslating, s.now)
	a := s.createArticle("a1", "t1", domain.ArticleTranslating, s.now.Add(-10*time.Minute))
	s.Require().NoError(s.articles.UpdateProgress(s.ctx, "a1", domain.ArticleTranslating, 40))

	// the progress write above counts as activity
	s.ErrorIs(s.articles.Reclaim(s.ctx, a, s.now.Add(-5*time.Minute)), domain.ErrConflict)

	s.now = s.now.Add(10 * time.Minute)
	s.Require().NoError(s.articles.Reclaim(s.ctx, a, s.now.Add(-5*time.Minute)))
	s.Equal(s.now, a.UpdatedAt)

	got, err := s.articles.Get(s.ctx, "a1")
	s.Require().NoError(err)
	s.Equal(domain.ArticleTranslating, got.Status)
	s.Equal(40, got.Progress)
	s.True(s.now.Equal(got.UpdatedAt))

	s.ErrorIs(s.articles.Reclaim(s.ctx, a, s.now.Add(-5*time.Minute)), domain.ErrConflict)
	s.ErrorIs(s.articles.Reclaim(s.ctx, &domain.Article{ID: "nope", Status: domain.ArticleTranslating}, s.now), domain.ErrNotFound)
}

func (s *SQLiteStoreSuite) TestArticleMarkFailedSparesFinished() {
	s.createTask("t1", domain.TaskTranslating, s.now)
	s.createArticle("a1", "t1", domain.ArticleTranslating, s.now)
	s.createArticle("a2", "t1", domain.ArticleCompleted, s.now)

	s.NoError(s.articles.MarkFailed(s.ctx, "a1"))
	s.NoError(s.articles.MarkFailed(s.ctx, "a2"))

	a1, err := s.articles.Get(s.ctx, "a1")
	s.Require().NoError(err)
	s.Equal(domain.ArticleFailed, a1.Status)
	a2, err := s.articles.Get(s.ctx, "a2")
	s.Require().NoError(err)
	s.Equal(domain.ArticleCompleted, a2.Status)
}

func (s *SQLiteStoreSuite) TestArticleListByTaskAndStale() {
	s.createTask("t1", domain.TaskTranslating, s.now)
	s.createTask("t2", domain.TaskTranslating, s.now)
	s.createArticle("a1", "t1", domain.ArticleTranslating, s.now.Add(-3*time.Hour))
	s.createArticle("a2", "t1", domain.ArticleCompleted, s.now.Add(-2*time.Hour))
	s.createArticle("a3", "t2", domain.ArticleGenerating, s.now)

	byTask, err := s.articles.ListByTask(s.ctx, "t1")
	s.Require().NoError(err)
	s.Require().Len(byTask, 2)
	s.Equal("a1", byTask[0].ID)
	s.Equal("a2", byTask[1].ID)

	stale, err := s.articles.ListStale(s.ctx, []domain.ArticleStatus{
		domain.ArticleTranslating,
		domain.ArticleGenerating,
	}, s.now.Add(-time.Hour))
	s.Require().NoError(err)
	s.Require().Len(stale, 1)
	s.Equal("a1", stale[0].ID)
}

func (s *SQLiteStoreSuite) TestTransactionRollsBack() {
	errAbort := errors.New("abort")

	err := s.tm.WithTransaction(s.ctx, func(ctx context.Context) error {
		s.Require().NotNil(GetTxFromContext(ctx))
		if err := s.tasks.Create(ctx, &domain.Task{ID: "t1", Origin: domain.OriginText, Status: domain.TaskPending, CreatedAt: s.now, UpdatedAt: s.now}); err != nil {
			return err
		}
		return errAbort
	})
	s.ErrorIs(err, errAbort)

	_, err = s.tasks.Get(s.ctx, "t1")
	s.ErrorIs(err, domain.ErrNotFound)
}

func (s *SQLiteStoreSuite) TestTransactionCommits() {
	err := s.tm.WithTransaction(s.ctx, func(ctx context.Context) error {
		if err := s.tasks.Create(ctx, &domain.Task{ID: "t1", Origin: domain.OriginText, Status: domain.TaskPending, CreatedAt: s.now, UpdatedAt: s.now}); err != nil {
			return err
		}
		return s.articles.Create(ctx, &domain.Article{ID: "a1", TaskID: "t1", Status: domain.ArticlePending, CreatedAt: s.now, UpdatedAt: s.now})
	})
	s.Require().NoError(err)

	got, err := s.articles.ListByTask(s.ctx, "t1")
	s.Require().NoError(err)
	s.Len(got, 1)
}

func (s *SQLiteStoreSuite) TestArticleRequiresTask() {
	err := s.articles.Create(s.ctx, &domain.Article{ID: "orphan", TaskID: "nope", Status: domain.ArticlePending, CreatedAt: s.now, UpdatedAt: s.now})
	s.Error(err)
}
