package main

import (
	"fmt"
	"io"

	"github.com/fogleman/gg"
	"github.com/gnl2024/os-tutorial/kernel/mm/region"
)

const (
	memMapWidth     = 960
	memMapRowHeight = 22
	memMapMargin    = 10
	memMapLabelW    = 420
)

var kindColors = map[region.Kind][3]float64{
	region.KindCode:  {0.85, 0.33, 0.31},
	region.KindData:  {0.95, 0.68, 0.31},
	region.KindStack: {0.36, 0.72, 0.36},
	region.KindHeap:  {0.26, 0.55, 0.79},
}

type memMapRow struct {
	table string
	id    region.ID
	r     region.Region
}

// renderMemMap draws every active region of the supplied tables as a bar
// scaled to the highest mapped address and writes the result to w as PNG.
func renderMemMap(w io.Writer, tables ...*region.Table) error {
	var (
		rows []memMapRow
		top  uintptr
	)

	for _, t := range tables {
		t.Visit(func(id region.ID, r region.Region) bool {
			rows = append(rows, memMapRow{table: t.Name(), id: id, r: r})
			if r.End > top {
				top = r.End
			}
			return true
		})
	}

	height := 2*memMapMargin + (len(rows)+1)*memMapRowHeight
	dc := gg.NewContext(memMapWidth, height)
	dc.SetRGB(1, 1, 1)
	dc.Clear()

	dc.SetRGB(0, 0, 0)
	dc.DrawString(fmt.Sprintf("%d regions, top of memory 0x%x", len(rows), top), memMapMargin, memMapMargin+14)

	barX := float64(memMapMargin + memMapLabelW)
	barW := float64(memMapWidth-memMapMargin) - barX
	scale := 0.0
	if top != 0 {
		scale = barW / float64(top)
	}

	for i, row := range rows {
		y := float64(memMapMargin + (i+1)*memMapRowHeight)

		dc.SetRGB(0, 0, 0)
		dc.DrawString(fmt.Sprintf("%-6s %-6s %s", row.table, row.id, row.r), memMapMargin, y+14)

		dc.SetRGB(0.9, 0.9, 0.9)
		dc.DrawRectangle(barX, y+3, barW, memMapRowHeight-6)
		dc.Fill()

		c, ok := kindColors[row.r.Kind]
		if !ok {
			c = [3]float64{0.5, 0.5, 0.5}
		}
		dc.SetRGB(c[0], c[1], c[2])

		// keep tiny regions visible
		length := float64(row.r.Size()) * scale
		if length < 1 {
			length = 1
		}
		dc.DrawRectangle(barX+float64(row.r.Start)*scale, y+3, length, memMapRowHeight-6)
		dc.Fill()
	}

	return dc.EncodePNG(w)
}
