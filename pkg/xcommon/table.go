package xcommon

import (
	"context"
	"fmt"
	"io"
	"os"

	"doorbus/pkg/xlog"

	"github.com/liushuochen/gotable"
	"go.uber.org/zap"
)

func renderTable(keys []string, values [][]string) (string, error) {
	table, err := gotable.CreateSafeTable(keys...)
	if err != nil {
		return "", err
	}
	for _, vs := range values {
		if err := table.AddRow(vs); err != nil {
			return "", err
		}
	}
	return fmt.Sprint(table), nil
}

// FprintTable renders rows under keys to w.
func FprintTable(ctx context.Context, w io.Writer, keys []string, values [][]string) {
	out, err := renderTable(keys, values)
	if err != nil {
		xlog.Get(ctx).Warn("Print table failed.", zap.Any("err", err))
		return
	}
	fmt.Fprintln(w, out)
}

func PrintTable(ctx context.Context, keys []string, values [][]string) {
	FprintTable(ctx, os.Stdout, keys, values)
}
