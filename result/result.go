// Package result writes the id,ico table.
package result

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/dhcgn/ico-scan/model"
)

// Header is the first line of every result table.
const Header = "id,ico"

// Write renders rows as lines of "<id>,<ico>" below the header line. Lines
// are separated by a single newline and the table has no trailing newline
// after the last row. Fields are written verbatim.
func Write(w io.Writer, rows []model.Row) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString(Header + "\n"); err != nil {
		return err
	}
	for i, row := range rows {
		if i > 0 {
			if err := bw.WriteByte('\n'); err != nil {
				return err
			}
		}
		if _, err := bw.WriteString(row.ID + "," + row.ICO); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// WriteFile writes the table to path, replacing any existing file.
func WriteFile(path string, rows []model.Row) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create result file: %w", err)
	}

	if err := Write(file, rows); err != nil {
		file.Close()
		return fmt.Errorf("write result file: %w", err)
	}

	if err := file.Close(); err != nil {
		return fmt.Errorf("close result file: %w", err)
	}
	return nil
}
