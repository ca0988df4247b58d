package upload

import (
	"bytes"
	"fmt"
	"os"
)

// readLog returns the log file up to its last newline. A trailing partial
// line is an append in progress and goes out with the next upload.
func readLog(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read log file: %w", err)
	}
	return completeLines(data), nil
}

func completeLines(data []byte) []byte {
	i := bytes.LastIndexByte(data, '\n')
	return data[:i+1]
}
