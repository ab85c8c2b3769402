package consumer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"fstrack/internal/model"
	"fstrack/internal/storage"
	"fstrack/internal/track"
)

const (
	changedFilesQuery = `SELECT path, ext1 FROM entries
		WHERE tree_id = $1 AND last_change_at = $2 AND type = 'file'
		ORDER BY path`

	// A digest computed for a later import is never overwritten by a
	// redelivered older event.
	upsertDigest = `INSERT INTO digests (tree_id, path, ver, sha256, bytes)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (tree_id, path) DO UPDATE
		SET ver = excluded.ver, sha256 = excluded.sha256, bytes = excluded.bytes
		WHERE digests.ver <= excluded.ver`

	deleteRemovedDigests = `DELETE FROM digests
		WHERE tree_id = $1 AND ver <= $2
		AND path IN (SELECT path FROM removed WHERE tree_id = $1 AND removed_at = $2)`
)

// Digester maintains the digests table from ImportFinished events: files
// an import created or changed are hashed, files it found removed lose
// their digest. Applying the same event twice yields the same rows.
type Digester struct {
	provider   storage.Provider
	logger     track.Logger
	extensions map[string]bool
}

// NewDigester creates a Digester. With no extensions every file is
// hashed; otherwise only files whose ext1 bucket is listed (".jpg" or
// "jpg").
func NewDigester(provider storage.Provider, logger track.Logger, extensions []string) *Digester {
	d := &Digester{provider: provider, logger: logger}
	if len(extensions) > 0 {
		d.extensions = make(map[string]bool, len(extensions))
		for _, ext := range extensions {
			ext = strings.ToLower(strings.TrimSpace(ext))
			if ext == "" {
				continue
			}
			if !strings.HasPrefix(ext, ".") {
				ext = "." + ext
			}
			d.extensions[ext] = true
		}
	}
	return d
}

// Handle applies one event. Events other than ImportFinished are ignored.
func (d *Digester) Handle(ctx context.Context, event track.Event) error {
	if event.Name != track.EventImportFinished {
		d.logger.Debug("ignoring event", "id", event.ID, "name", event.Name)
		return nil
	}
	p, err := track.DecodeImportFinished(event)
	if err != nil {
		// Redelivery will not fix a malformed payload.
		d.logger.Error("dropping malformed event", "id", event.ID, "error", err)
		return nil
	}

	paths, err := d.changedFiles(ctx, p.TreeID, p.ImportID)
	if err != nil {
		return err
	}

	digests := make([]model.Digest, 0, len(paths))
	for _, path := range paths {
		sum, size, err := hashFile(path)
		if err != nil {
			d.logger.Warn("skipping file", "path", path, "import_id", p.ImportID, "error", err)
			continue
		}
		digests = append(digests, model.Digest{TreeID: p.TreeID, Path: path, Ver: p.ImportID, SHA256: sum, Bytes: size})
	}

	var deleted int64
	err = d.provider.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		for _, dg := range digests {
			if _, err := tx.Exec(ctx, upsertDigest, dg.TreeID, dg.Path, dg.Ver, dg.SHA256, dg.Bytes); err != nil {
				return fmt.Errorf("storing digest of %s: %w", dg.Path, err)
			}
		}
		n, err := tx.Exec(ctx, deleteRemovedDigests, p.TreeID, p.ImportID)
		if err != nil {
			return fmt.Errorf("deleting removed digests: %w", err)
		}
		deleted = n
		return nil
	})
	if err != nil {
		return fmt.Errorf("applying import %s: %w", p.ImportID, err)
	}

	d.logger.Info("digests updated", "import_id", p.ImportID, "tree_id", p.TreeID,
		"hashed", len(digests), "skipped", len(paths)-len(digests), "deleted", deleted)
	return nil
}

func (d *Digester) changedFiles(ctx context.Context, treeID int64, importID string) ([]string, error) {
	var paths []string
	err := d.provider.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		rows, err := tx.Query(ctx, changedFilesQuery, treeID, importID)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var path, ext1 string
			if err := rows.Scan(&path, &ext1); err != nil {
				return err
			}
			if d.extensions == nil || d.extensions[ext1] {
				paths = append(paths, path)
			}
		}
		return rows.Close()
	})
	if err != nil {
		return nil, fmt.Errorf("listing changes of import %s: %w", importID, err)
	}
	return paths, nil
}

// Lookup returns the digest stored for a path.
func (d *Digester) Lookup(ctx context.Context, treeID int64, path string) (*model.Digest, error) {
	dg := &model.Digest{}
	err := d.provider.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		return tx.QueryRow(ctx, `SELECT tree_id, path, ver, sha256, bytes FROM digests WHERE tree_id = $1 AND path = $2`,
			treeID, path).Scan(&dg.TreeID, &dg.Path, &dg.Ver, &dg.SHA256, &dg.Bytes)
	})
	if err != nil {
		return nil, err
	}
	return dg, nil
}

func hashFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}
