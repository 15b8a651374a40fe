package common

import (
	"fmt"
	"path/filepath"
)

// PathManager resolves the on-disk layout of a database directory:
//
//	<root>/MANIFEST
//	<root>/wal/<fileNo>.log
//	<root>/sstable/<level>/<fileNo>.sst
type PathManager struct {
	root string
}

func NewPathManager(root string) *PathManager {
	return &PathManager{root: root}
}

func (p *PathManager) Root() string {
	return p.root
}

func (p *PathManager) ManifestPath() string {
	return filepath.Join(p.root, "MANIFEST")
}

func (p *PathManager) WALDir() string {
	return filepath.Join(p.root, "wal")
}

func (p *PathManager) WALPath(fileNo FileNo) string {
	return filepath.Join(p.WALDir(), fmt.Sprintf("%d.log", fileNo))
}

func (p *PathManager) SSTableDir() string {
	return filepath.Join(p.root, "sstable")
}

func (p *PathManager) LevelDir(level int) string {
	return filepath.Join(p.SSTableDir(), fmt.Sprintf("%d", level))
}

func (p *PathManager) SSTablePath(level int, fileNo FileNo) string {
	return filepath.Join(p.LevelDir(level), fmt.Sprintf("%d.sst", fileNo))
}
