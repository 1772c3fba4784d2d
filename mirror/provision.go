package mirror

import (
	"fmt"
	"sort"

	imap "github.com/BrianLeishman/imapsync"
)

// Provision is the outcome of provisioning the destination folders.
type Provision struct {
	// Paths maps each source folder name to its destination path.
	Paths map[string]string
	// Created lists destination paths created (or, in dry-run, that would
	// have been created) in creation order.
	Created []string
	// Missing holds destination paths that still do not exist; only
	// non-empty in dry-run.
	Missing map[string]bool
}

// Provisioner makes sure every source folder exists on the destination.
type Provisioner struct {
	dst    *Account
	tr     *Translator
	dryRun bool
	log    imap.Logger
}

// NewProvisioner returns a Provisioner for dst. In dry-run it creates nothing.
func NewProvisioner(dst *Account, tr *Translator, dryRun bool, log imap.Logger) *Provisioner {
	return &Provisioner{dst: dst, tr: tr, dryRun: dryRun, log: log}
}

// Provision translates every folder, checks the whole mapping for
// collisions and then creates the missing ones, shallowest first so that a
// parent always exists before its children.
func (p *Provisioner) Provision(folders []imap.Folder) (Provision, error) {
	res := Provision{
		Paths:   make(map[string]string, len(folders)),
		Missing: make(map[string]bool),
	}

	owner := make(map[string]string, len(folders))
	for _, f := range folders {
		path, err := p.tr.Translate(f, p.dst.Delimiter)
		if err != nil {
			return res, err
		}
		if prev, ok := owner[path]; ok && prev != f.Name {
			return res, fmt.Errorf("%w: %q and %q both map to %q",
				ErrFolderCollision, imap.DecodeFolderName(prev), f.DisplayName(), imap.DecodeFolderName(path))
		}
		owner[path] = f.Name
		res.Paths[f.Name] = path
	}

	ordered := append([]imap.Folder(nil), folders...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Depth() < ordered[j].Depth()
	})

	for _, f := range ordered {
		path := res.Paths[f.Name]
		if res.Missing[path] {
			continue
		}
		exists, err := p.dst.Endpoint.FolderExists(path)
		if err != nil {
			return res, fmt.Errorf("check folder %q: %w", imap.DecodeFolderName(path), err)
		}
		if exists {
			p.log.Debug("folder exists", "folder", f.DisplayName(), "dest_folder", imap.DecodeFolderName(path))
			continue
		}

		p.log.Info("creating folder", "folder", f.DisplayName(), "dest_folder", imap.DecodeFolderName(path), "dry_run", p.dryRun)
		if p.dryRun {
			res.Created = append(res.Created, path)
			res.Missing[path] = true
			continue
		}
		if err := p.dst.Endpoint.CreateFolder(path); err != nil {
			return res, fmt.Errorf("create folder %q: %w", imap.DecodeFolderName(path), err)
		}
		res.Created = append(res.Created, path)
	}

	p.log.Info("folders provisioned", "folders", len(folders), "created", len(res.Created), "dry_run", p.dryRun)
	return res, nil
}
