package usecase

import (
	"bytes"
	"context"
	"fmt"
	"sort"
)

// Planner computes the ordered create/update/delete plan a deploy
// applies (spec §4.4, component C6).
type Planner struct {
	Classifier *Classifier
	Repo       RepoPort
	FileSystem FileSystemPort
	HomeRoot   string
}

// NewPlanner builds a Planner.
func NewPlanner(classifier *Classifier, repo RepoPort, fsys FileSystemPort, homeRoot string) *Planner {
	return &Planner{Classifier: classifier, Repo: repo, FileSystem: fsys, HomeRoot: homeRoot}
}

// Plan walks the tree at revisionID and diffs it against the live
// filesystem, producing plan actions in the deterministic order spec
// §4.4 requires: creates/updates ordered by ascending path depth
// (parents before children), deletes ordered by descending depth
// (children before parents); ties broken lexicographically.
func (p *Planner) Plan(ctx context.Context, revisionID string) ([]PlanAction, error) {
	selected, err := p.selectedTreeEntries(ctx, revisionID)
	if err != nil {
		return nil, err
	}

	var creates, updates []PlanAction
	for rp, entry := range selected {
		action, needed, err := p.diffOne(ctx, rp, entry)
		if err != nil {
			return nil, err
		}
		if !needed {
			continue
		}
		if action.Kind == ActionCreate {
			creates = append(creates, action)
		} else {
			updates = append(updates, action)
		}
	}

	deletes, err := p.findDeletions(ctx, selected)
	if err != nil {
		return nil, err
	}

	sortAscending(creates)
	sortAscending(updates)
	sortDescending(deletes)

	actions := make([]PlanAction, 0, len(creates)+len(updates)+len(deletes))
	actions = append(actions, creates...)
	actions = append(actions, updates...)
	actions = append(actions, deletes...)
	return actions, nil
}

// selectedTreeEntries walks the tree and keeps entries that classify
// as InRoot/ExtraFile, plus secret ciphertext sidecars (spec §4.4).
func (p *Planner) selectedTreeEntries(ctx context.Context, revisionID string) (map[RP]TreeEntry, error) {
	it, err := p.Repo.WalkTree(ctx, revisionID)
	if err != nil {
		return nil, fmt.Errorf("walk tree %s: %w", revisionID, err)
	}
	defer func() { _ = it.Close() }()

	selected := make(map[RP]TreeEntry)
	for {
		entry, ok, err := it.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		verdict := p.Classifier.Classify(entry.Path, false)
		if verdict.Class.Managed() || verdict.Class == ClassSecretCiphertext {
			selected[NormalizeRP(entry.Path)] = entry
		}
	}
	return selected, nil
}

func (p *Planner) diffOne(ctx context.Context, rp RP, entry TreeEntry) (PlanAction, bool, error) {
	livePath := p.FileSystem.Join(p.HomeRoot, rp)
	info, err := p.FileSystem.Lstat(ctx, livePath)
	if err != nil {
		if p.FileSystem.IsNotExist(err) {
			return PlanAction{Kind: ActionCreate, Path: rp, Entry: entry.Kind, Source: &entry}, true, nil
		}
		return PlanAction{}, false, err
	}

	liveKind := EntryKindFromInfo(info)
	if liveKind != entry.Kind {
		return PlanAction{Kind: ActionUpdate, Path: rp, Entry: entry.Kind, Source: &entry}, true, nil
	}

	switch entry.Kind {
	case KindSymlink:
		target, err := p.FileSystem.Readlink(ctx, livePath)
		if err != nil {
			return PlanAction{}, false, err
		}
		if target == entry.SymlinkTarget {
			return PlanAction{}, false, nil
		}
	case KindRegular, KindExecutable:
		live, err := p.FileSystem.ReadFile(ctx, livePath)
		if err != nil {
			return PlanAction{}, false, err
		}
		blob, err := p.Repo.ReadBlob(ctx, entry.BlobID)
		if err != nil {
			return PlanAction{}, false, err
		}
		if bytes.Equal(live, blob) {
			return PlanAction{}, false, nil
		}
	default:
		return PlanAction{}, false, nil
	}

	return PlanAction{Kind: ActionUpdate, Path: rp, Entry: entry.Kind, Source: &entry}, true, nil
}

// findDeletions walks the live managed roots and extra files, looking
// for managed paths absent from the selected tree entries.
func (p *Planner) findDeletions(ctx context.Context, selected map[RP]TreeEntry) ([]PlanAction, error) {
	seen := make(map[RP]struct{})
	var deletes []PlanAction

	visit := func(rp RP) error {
		if _, already := seen[rp]; already {
			return nil
		}
		seen[rp] = struct{}{}
		verdict := p.Classifier.Classify(rp, false)
		if !verdict.Class.Managed() && verdict.Class != ClassSecretCiphertext {
			return nil
		}
		if _, ok := selected[rp]; ok {
			return nil
		}
		deletes = append(deletes, PlanAction{Kind: ActionDelete, Path: rp})
		return nil
	}

	for _, root := range p.Classifier.Roots() {
		rootPath := p.FileSystem.Join(p.HomeRoot, root)
		if _, err := p.FileSystem.Lstat(ctx, rootPath); err != nil {
			if p.FileSystem.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		err := p.FileSystem.Walk(ctx, rootPath, func(path string, info FileInfo, err error) error {
			if err != nil {
				return err
			}
			if info.IsDir() {
				return nil
			}
			rel, relErr := p.FileSystem.Rel(p.HomeRoot, path)
			if relErr != nil {
				return relErr
			}
			return visit(NormalizeRP(rel))
		})
		if err != nil {
			return nil, err
		}
	}

	for _, extra := range p.Classifier.ExtraFiles() {
		path := p.FileSystem.Join(p.HomeRoot, extra)
		if _, err := p.FileSystem.Lstat(ctx, path); err != nil {
			if p.FileSystem.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		if err := visit(extra); err != nil {
			return nil, err
		}
	}

	return deletes, nil
}

// EntryKindFromInfo classifies a live FileInfo (as returned by Lstat,
// so symlinks are never dereferenced) into an EntryKind.
func EntryKindFromInfo(info FileInfo) EntryKind {
	switch {
	case info.IsSymlink():
		return KindSymlink
	case info.IsDir():
		return KindDirectory
	case info.Mode()&0o111 != 0:
		return KindExecutable
	default:
		return KindRegular
	}
}

func sortAscending(actions []PlanAction) {
	sort.Slice(actions, func(i, j int) bool {
		di, dj := PathDepth(actions[i].Path), PathDepth(actions[j].Path)
		if di != dj {
			return di < dj
		}
		return actions[i].Path < actions[j].Path
	})
}

func sortDescending(actions []PlanAction) {
	sort.Slice(actions, func(i, j int) bool {
		di, dj := PathDepth(actions[i].Path), PathDepth(actions[j].Path)
		if di != dj {
			return di > dj
		}
		return actions[i].Path < actions[j].Path
	})
}
