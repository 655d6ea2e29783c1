package platform

import (
	"os"
	"path/filepath"

	log "github.com/junbin-yang/nearshare-go/pkg/utils/logger"
)

// DiskHandler is the Handler implementation the receiver daemon runs with:
// it writes every accepted file transfer under Dir and relays log lines and
// received URIs to the shared zap-backed logger, standing in for the
// Android UI shell this core deliberately does not implement.
type DiskHandler struct {
	Dir string
}

// NewDiskHandler returns a handler that accepts every inbound file transfer
// into dir, creating it if necessary.
func NewDiskHandler(dir string) *DiskHandler {
	return &DiskHandler{Dir: dir}
}

func (h *DiskHandler) Log(level LogLevel, message string) {
	switch level {
	case LogDebug:
		log.Debug(message)
	case LogWarn:
		log.Warn(message)
	case LogError:
		log.Error(message)
	default:
		log.Info(message)
	}
}

func (h *DiskHandler) OnReceivedUri(deviceName, uri string) {
	log.Infof("received URI from %s: %s", deviceName, uri)
}

// OnFileTransfer always accepts, writing into Dir/<FileName>. An existing
// file of the same name is truncated and overwritten. Each channel runs one
// transfer, but separate connections are served concurrently, so two
// in-progress transfers with the same file name write into the same path.
func (h *DiskHandler) OnFileTransfer(token *FileTransferToken) {
	if err := os.MkdirAll(h.Dir, 0o755); err != nil {
		log.Errorf("creating storage dir %s: %v", h.Dir, err)
		token.Cancel()
		return
	}

	path := filepath.Join(h.Dir, filepath.Base(token.FileName))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		log.Errorf("opening %s: %v", path, err)
		token.Cancel()
		return
	}

	log.Infof("accepting file transfer %q (%d bytes) into %s", token.FileName, token.DeclaredSize, path)
	if err := token.Accept(f); err != nil {
		f.Close()
		return
	}

	// The application layer only ever writes through the io.WriterAt it was
	// handed; closing the file is this handler's job, since it is the one
	// that opened it. Progress reaching the declared size is the only
	// completion signal a Handler has, since the sink is external to the
	// application and never notified of completion directly.
	go func() {
		for n := range token.Progress() {
			if n >= token.DeclaredSize {
				break
			}
		}
		f.Close()
	}()
}
