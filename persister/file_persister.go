package persister

import (
	"log"
	"os"
	"path"
	"sync"
)

// FilePersister is a directory-backed Persister. It is the adapted
// successor of the teacher's filemanager package: instead of managing many
// per-partition segment files, it manages exactly two files per node
// directory, written with the same os.OpenFile/os.MkdirAll idiom.
type FilePersister struct {
	mutex        sync.Mutex
	dir          string
	stateFile    string
	snapshotFile string
}

// NewFilePersister creates (if absent) dir and returns a Persister backed by
// dir/raftstate.bin and dir/snapshot.bin.
func NewFilePersister(dir string) *FilePersister {
	if err := os.MkdirAll(dir, 0777); err != nil {
		log.Fatal("failed to create persister directory: ", err)
	}
	return &FilePersister{
		dir:          dir,
		stateFile:    path.Join(dir, "raftstate.bin"),
		snapshotFile: path.Join(dir, "snapshot.bin"),
	}
}

func (fp *FilePersister) SaveRaftState(state []byte) {
	fp.mutex.Lock()
	defer fp.mutex.Unlock()
	fp.writeFile(fp.stateFile, state)
}

func (fp *FilePersister) ReadRaftState() []byte {
	fp.mutex.Lock()
	defer fp.mutex.Unlock()
	return fp.readFile(fp.stateFile)
}

func (fp *FilePersister) SaveStateAndSnapshot(state []byte, snapshot []byte) {
	fp.mutex.Lock()
	defer fp.mutex.Unlock()
	// Both blobs must land atomically: write to temp files then rename,
	// so a crash mid-write never leaves state and snapshot out of sync.
	fp.writeFileAtomic(fp.stateFile, state)
	fp.writeFileAtomic(fp.snapshotFile, snapshot)
}

func (fp *FilePersister) ReadSnapshot() []byte {
	fp.mutex.Lock()
	defer fp.mutex.Unlock()
	return fp.readFile(fp.snapshotFile)
}

func (fp *FilePersister) RaftStateSize() int {
	fp.mutex.Lock()
	defer fp.mutex.Unlock()
	info, err := os.Stat(fp.stateFile)
	if err != nil {
		return 0
	}
	return int(info.Size())
}

func (fp *FilePersister) writeFile(name string, data []byte) {
	f, err := os.OpenFile(name, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0666)
	if err != nil {
		log.Println("persister write error", err)
		return
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		log.Println("persister write error", err)
	}
}

func (fp *FilePersister) writeFileAtomic(name string, data []byte) {
	tmp := name + ".tmp"
	fp.writeFile(tmp, data)
	if err := os.Rename(tmp, name); err != nil {
		log.Println("persister rename error", err)
	}
}

func (fp *FilePersister) readFile(name string) []byte {
	data, err := os.ReadFile(name)
	if err != nil {
		return nil
	}
	return data
}
