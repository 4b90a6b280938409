// Package outputs records which artifacts a step run produced.
package outputs

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/therealutkarshpriyadarshi/pipeline/pkg/models"
)

// LinkWriter persists output links
type LinkWriter interface {
	CreateOutputLinks(ctx context.Context, links []models.OutputLink) error
}

// Linker turns a step's output references into OutputLink rows
type Linker struct {
	writer LinkWriter
	logger logrus.FieldLogger
}

// NewLinker creates an output linker
func NewLinker(writer LinkWriter, logger logrus.FieldLogger) *Linker {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Linker{writer: writer, logger: logger}
}

// Links builds the deduplicated links of refs for stepRunID. References with
// an empty target type or ID are skipped.
func Links(stepRunID string, refs []models.OutputRef) []models.OutputLink {
	links := make([]models.OutputLink, 0, len(refs))
	seen := make(map[models.OutputRef]bool, len(refs))
	for _, ref := range refs {
		ref.TargetType = strings.TrimSpace(ref.TargetType)
		ref.TargetID = strings.TrimSpace(ref.TargetID)
		if ref.TargetType == "" || ref.TargetID == "" || seen[ref] {
			continue
		}
		seen[ref] = true
		links = append(links, models.OutputLink{
			StepRunID:  stepRunID,
			TargetType: ref.TargetType,
			TargetID:   ref.TargetID,
		})
	}
	return links
}

// Link writes the links of refs. Errors are logged and swallowed; the number
// of links written is returned.
func (l *Linker) Link(ctx context.Context, stepRunID string, refs []models.OutputRef) int {
	links := Links(stepRunID, refs)
	if len(links) < len(refs) {
		l.logger.WithFields(logrus.Fields{
			"step_run_id": stepRunID,
			"skipped":     len(refs) - len(links),
		}).Debug("skipped empty or duplicate output references")
	}
	if len(links) == 0 || l.writer == nil {
		return 0
	}

	if err := l.writer.CreateOutputLinks(ctx, links); err != nil {
		l.logger.WithError(err).WithField("step_run_id", stepRunID).Warn("failed to write output links")
		return 0
	}
	return len(links)
}

// ContextValue renders refs the way downstream conditions see them under
// outputs.<node>
func ContextValue(refs []models.OutputRef) []interface{} {
	out := make([]interface{}, 0, len(refs))
	for _, link := range Links("", refs) {
		out = append(out, map[string]interface{}{
			"targetType": link.TargetType,
			"targetId":   link.TargetID,
		})
	}
	return out
}
