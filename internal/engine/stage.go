package engine

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/mblsha/zipforge/internal/archiver"
	"github.com/mblsha/zipforge/internal/fault"
	"github.com/mblsha/zipforge/internal/metrics"
	"github.com/mblsha/zipforge/internal/sandbox"
)

const (
	stagingPrefix    = ".extract-"
	stagingIDLength  = 8
	maxStagingTrials = 8
)

// rename is swapped in tests to fail promotion partway.
var rename = os.Rename

// StagedExtractor unpacks archives into a private staging directory under the
// output root and promotes the result onto the planned destination. The
// archiver never writes to the destination directly.
type StagedExtractor struct {
	Out      *sandbox.Root
	Archiver archiver.Archiver
	Log      logrus.FieldLogger
	Metrics  metrics.Recorder
}

// Extract runs the staged extraction for plan and returns the final path and
// the promotion mode actually used. The staging directory is removed on every
// return path.
func (s *StagedExtractor) Extract(ctx context.Context, archivePath, password string, plan Plan) (sandbox.ConfinedPath, PromotionMode, error) {
	staging, err := s.createStaging(plan.Stem)
	if err != nil {
		return sandbox.ConfinedPath{}, "", err
	}
	log := s.Log.WithFields(logrus.Fields{"staging": staging.Path(), "destination": plan.Destination.Path()})
	defer s.removeStaging(log, staging)

	if err := s.Archiver.Extract(ctx, archiver.ExtractRequest{
		Archive:  archivePath,
		Dest:     staging.Path(),
		Password: password,
	}); err != nil {
		return sandbox.ConfinedPath{}, "", err
	}

	final, mode, err := s.promote(staging, plan)
	if err != nil {
		return sandbox.ConfinedPath{}, "", err
	}
	s.Metrics.IncPromotion(string(mode))
	log.WithField("mode", mode).Info("promoted staged extraction")
	return final, mode, nil
}

func (s *StagedExtractor) createStaging(stem string) (sandbox.ConfinedPath, error) {
	for attempt := 0; attempt < maxStagingTrials; attempt++ {
		p, err := s.Out.Confine(stagingPrefix + stem + "-" + sandbox.ShortID(stagingIDLength))
		if err != nil {
			return sandbox.ConfinedPath{}, err
		}
		err = os.Mkdir(p.Path(), 0o700)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return sandbox.ConfinedPath{}, fault.Internal(err, "create staging directory")
		}
	}
	return sandbox.ConfinedPath{}, fault.Internal(fs.ErrExist, "no free staging directory name")
}

func (s *StagedExtractor) removeStaging(log logrus.FieldLogger, staging sandbox.ConfinedPath) {
	if err := os.RemoveAll(staging.Path()); err != nil {
		s.Metrics.IncCleanupWarning("staging")
		log.WithError(err).Warn("failed to remove staging directory")
	}
}

// promote moves staged content onto plan.Destination. Direct rename applies
// only when the staging area holds exactly one directory; anything else is
// merge-moved.
func (s *StagedExtractor) promote(staging sandbox.ConfinedPath, plan Plan) (sandbox.ConfinedPath, PromotionMode, error) {
	entries, err := os.ReadDir(staging.Path())
	if err != nil {
		return sandbox.ConfinedPath{}, "", fault.Internal(err, "read staging directory")
	}
	if err := plan.Destination.Revalidate(); err != nil {
		return sandbox.ConfinedPath{}, "", err
	}
	dest := plan.Destination.Path()

	if plan.Mode == DirectRename && len(entries) == 1 && entries[0].IsDir() {
		if exists, err := destinationExists(dest); err != nil {
			return sandbox.ConfinedPath{}, "", fault.Internal(err, "stat destination")
		} else if exists {
			return sandbox.ConfinedPath{}, "", fault.Conflict(dest)
		}
		if err := rename(filepath.Join(staging.Path(), entries[0].Name()), dest); err != nil {
			return sandbox.ConfinedPath{}, "", fault.Internal(err, "promote extracted directory")
		}
		return plan.Destination, DirectRename, nil
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return sandbox.ConfinedPath{}, "", fault.Internal(err, "create destination parent")
	}
	if err := os.Mkdir(dest, 0o755); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return sandbox.ConfinedPath{}, "", fault.Conflict(dest)
		}
		return sandbox.ConfinedPath{}, "", fault.Internal(err, "create destination")
	}
	for _, e := range entries {
		from := filepath.Join(staging.Path(), e.Name())
		to := filepath.Join(dest, e.Name())
		if err := rename(from, to); err != nil {
			// dest was created above, so a partial merge is removed whole.
			if rmErr := os.RemoveAll(dest); rmErr != nil {
				s.Metrics.IncCleanupWarning("destination")
			}
			return sandbox.ConfinedPath{}, "", fault.Internal(err, fmt.Sprintf("move %s into destination", e.Name()))
		}
	}
	return plan.Destination, MergeMove, nil
}
