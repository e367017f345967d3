// Command trajplot renders a saved trajectory dump as a PNG plan view.
//
// Usage: trajplot -in traj.txt -out traj.png
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

var (
	inFile  = flag.String("in", "traj.txt", "Trajectory dump (timestamp x y z qx qy qz qw)")
	outFile = flag.String("out", "traj.png", "Output PNG path")
)

func main() {
	flag.Parse()
	if err := run(*inFile, *outFile); err != nil {
		log.Fatalf("trajplot: %v", err)
	}
}

func run(in, out string) error {
	pts, err := loadTrajectory(in)
	if err != nil {
		return err
	}
	if len(pts) == 0 {
		return fmt.Errorf("no poses in %s", in)
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Trajectory (%d poses)", len(pts))
	p.X.Label.Text = "X (m)"
	p.Y.Label.Text = "Y (m)"

	line, err := plotter.NewLine(pts)
	if err != nil {
		return err
	}
	p.Add(line, plotter.NewGrid())

	return p.Save(8*vg.Inch, 8*vg.Inch, out)
}

func loadTrajectory(path string) (plotter.XYs, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var pts plotter.XYs
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		x, errX := strconv.ParseFloat(fields[1], 64)
		y, errY := strconv.ParseFloat(fields[2], 64)
		if errX != nil || errY != nil {
			continue
		}
		pts = append(pts, plotter.XY{X: x, Y: y})
	}
	return pts, sc.Err()
}
