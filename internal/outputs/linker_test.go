package outputs

import (
	"context"
	"errors"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/therealutkarshpriyadarshi/pipeline/pkg/models"
)

type fakeWriter struct {
	links []models.OutputLink
	err   error
}

func (f *fakeWriter) CreateOutputLinks(ctx context.Context, links []models.OutputLink) error {
	if f.err != nil {
		return f.err
	}
	f.links = append(f.links, links...)
	return nil
}

func TestLinks_DedupAndSkip(t *testing.T) {
	refs := []models.OutputRef{
		{TargetType: "document", TargetID: "d1"},
		{TargetType: "document", TargetID: "d1"},
		{TargetType: " document ", TargetID: "d1"},
		{TargetType: "", TargetID: "d2"},
		{TargetType: "page", TargetID: ""},
		{TargetType: "page", TargetID: "p1"},
	}

	links := Links("sr-1", refs)
	require.Len(t, links, 2)
	assert.Equal(t, models.OutputLink{StepRunID: "sr-1", TargetType: "document", TargetID: "d1"}, links[0])
	assert.Equal(t, "p1", links[1].TargetID)
}

func TestLinker_Link(t *testing.T) {
	logger, _ := test.NewNullLogger()
	w := &fakeWriter{}
	l := NewLinker(w, logger)

	n := l.Link(context.Background(), "sr-1", []models.OutputRef{{TargetType: "document", TargetID: "d1"}})
	assert.Equal(t, 1, n)
	require.Len(t, w.links, 1)
	assert.Equal(t, "sr-1", w.links[0].StepRunID)

	assert.Equal(t, 0, l.Link(context.Background(), "sr-1", nil))
}

func TestLinker_ErrorSwallowed(t *testing.T) {
	logger, hook := test.NewNullLogger()
	l := NewLinker(&fakeWriter{err: errors.New("unique violation")}, logger)

	n := l.Link(context.Background(), "sr-1", []models.OutputRef{{TargetType: "document", TargetID: "d1"}})
	assert.Equal(t, 0, n)
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, "failed to write output links", hook.LastEntry().Message)
}

func TestContextValue(t *testing.T) {
	v := ContextValue([]models.OutputRef{{TargetType: "document", TargetID: "d1"}, {TargetType: "document", TargetID: "d1"}})
	require.Len(t, v, 1)
	assert.Equal(t, map[string]interface{}{"targetType": "document", "targetId": "d1"}, v[0])
}
