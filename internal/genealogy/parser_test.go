package genealogy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sishengcao/paddleocr-api/internal/models"
	"github.com/sishengcao/paddleocr-api/pkg/logger"
	"github.com/sishengcao/paddleocr-api/pkg/store"
)

func page(text string) *models.PageResult {
	return &models.PageResult{
		PageID:     "page-1",
		TaskID:     "task-1",
		BookID:     "book-1",
		RawText:    text,
		Success:    true,
		Confidence: 0.9,
	}
}

func TestParsePersonEntry(t *testing.T) {
	p := NewParser()

	entries := p.ParsePage(page("第12世 陈德全公 字明远 号竹轩\n生于康熙三十年 卒于乾隆二十年\n葬于狮子山南麓\n长子陈文魁 次子陈文星 配李氏"))
	require.Len(t, entries, 1)

	e := entries[0]
	require.NotNil(t, e.Generation)
	assert.Equal(t, 12, *e.Generation)
	assert.Equal(t, "陈", e.Surname)
	assert.Equal(t, "德全", e.GivenName)
	assert.Equal(t, "明远", e.CourtesyName)
	assert.Equal(t, "竹轩", e.ArtName)
	assert.Equal(t, "康熙三十年", e.BirthDate)
	assert.Equal(t, "乾隆二十年", e.DeathDate)
	assert.Contains(t, e.BurialLocation, "狮子山")
	assert.Equal(t, []string{"李氏"}, e.Spouses)
	assert.Equal(t, []string{"陈文魁", "陈文星"}, e.Children)
	assert.Equal(t, 0.9, e.Confidence)
}

func TestParseSplitsAtGenerationMarkers(t *testing.T) {
	p := NewParser()

	entries := p.ParsePage(page("第3世 李大山 字子岳\n第4世 李小川 字子江"))
	require.Len(t, entries, 2)
	assert.Equal(t, "大山", entries[0].GivenName)
	assert.Equal(t, "小川", entries[1].GivenName)
}

func TestParseSplitsAtBlankLines(t *testing.T) {
	p := NewParser()

	entries := p.ParsePage(page("王有财公 生于同治五年\n\n张广德君 卒于光绪十年"))
	require.Len(t, entries, 2)
	assert.Equal(t, "王", entries[0].Surname)
	assert.Equal(t, "张", entries[1].Surname)
}

func TestParseDropsNamelessGroups(t *testing.T) {
	p := NewParser()

	entries := p.ParsePage(page("此处文字残缺不可辨认"))
	assert.Empty(t, entries)
}

func TestParseSkipsFailedPages(t *testing.T) {
	p := NewParser()

	failed := page("第1世 陈一公")
	failed.Success = false
	assert.Empty(t, p.ParsePage(failed))

	empty := page("")
	assert.Empty(t, p.ParsePage(empty))
}

func TestMineTask(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	require.NoError(t, s.CreateTask(ctx, &models.BatchTask{TaskID: "task-1", Status: models.StatusCompleted}))

	pages := []*models.PageResult{
		{PageID: "p1", TaskID: "task-1", FileName: "001.jpg", RawText: "第1世 陈始祖公", Success: true},
		{PageID: "p2", TaskID: "task-1", FileName: "002.jpg", RawText: "", Success: false},
		{PageID: "p3", TaskID: "task-1", FileName: "003.jpg", RawText: "第2世 陈继宗公", Success: true},
	}
	for _, pg := range pages {
		require.NoError(t, s.CreatePage(ctx, pg))
	}

	miner := NewMiner(s, logger.NewTestLogger())
	entries, err := miner.MineTask(ctx, "task-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "始祖", entries[0].GivenName)
	assert.Equal(t, "继宗", entries[1].GivenName)
}
