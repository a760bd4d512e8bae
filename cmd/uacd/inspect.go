package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"

	uac "github.com/kevmo314/go-uac"
	"github.com/kevmo314/go-uac/pkg/descriptors"
)

type InspectCmd struct {
	Paths bool `help:"Also print every control path through the topology."`
}

func (c *InspectCmd) Run(g *Globals, logger *slog.Logger) error {
	s, err := g.open(logger)
	if err != nil {
		return err
	}
	defer s.Close()
	return c.print(os.Stdout, s.driver)
}

func (c *InspectCmd) print(out io.Writer, d *uac.Driver) error {
	m := d.Model()
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "Audio function\t%s, control interface %d\n", m.Protocol, m.ControlInterface)
	if ep := m.InterruptEndpoint; ep != nil {
		fmt.Fprintf(w, "Status endpoint\t0x%02x\n", ep.Address)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "INTERFACE\tALT\tDIRECTION\tSYNC\tFORMAT\tRATES")
	for _, si := range m.StreamingInterfaces() {
		formats, err := d.Formats(si.Number)
		if err != nil {
			fmt.Fprintf(w, "%d\t-\t-\t-\t%v\t\n", si.Number, err)
			continue
		}
		for _, f := range formats {
			alt := m.AltSetting(si.Number, f.Alt)
			fmt.Fprintf(w, "%d\t%d\t%s\t%s\t%d ch %d bit (0x%04x)\t%v\n",
				si.Number, f.Alt, alt.Direction(), alt.SyncType(), f.Channels, f.BitDepth, uint16(f.Code), f.Rates)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "ENGINE\tINTERFACES\tMASTER\tRATE\tSINGLE RATE\tGUID")
	for _, e := range d.Engines() {
		fmt.Fprintf(w, "%d\t%v\t%d\t%d\t%t\t%s\n",
			e.Index, e.Interfaces(), e.Master.Interface, e.Master.Format.Rate, e.SingleRate, e.GUID)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "STREAM\tENGINE\tFORMAT\tOFFSET\tLATENCY")
	for _, e := range d.Engines() {
		for _, mb := range e.Members {
			fmt.Fprintf(w, "%d\t%d\t%d ch %d bit %d Hz\t%d\t%d\n",
				mb.Interface, e.Index, mb.Format.Channels, mb.Format.BitDepth, mb.Format.Rate, mb.SampleOffset, mb.Latency)
		}
	}
	fmt.Fprintln(w)

	for _, sel := range d.ClockSelectors() {
		fmt.Fprintf(w, "Clock selector %d (engine %d, pin %d)\n", sel.Unit, sel.Engine, sel.Current)
		for _, o := range sel.Options {
			fmt.Fprintf(w, "  pin %d\t%s\tsource %d\tvalid=%t\n", o.Pin, o.Name, o.Source, o.Valid)
		}
	}

	fmt.Fprintln(w, "CONTROL\tUSAGE\tVALUE")
	for _, ctl := range d.Controls() {
		fmt.Fprintf(w, "%s\t%s\t%d\n", ctl.Key, ctl.Usage, ctl.Value)
	}

	if c.Paths {
		fmt.Fprintln(w)
		g := d.Graph()
		for _, out := range g.OutputTerminals() {
			fmt.Fprintf(w, "Output terminal %d (%s)\n", out, m.TerminalType(out))
			for _, p := range g.PathsFrom(out) {
				fmt.Fprintf(w, "  %s\n", pathString(m, p))
			}
		}
	}
	return w.Flush()
}

func pathString(m *descriptors.Model, p []uint8) string {
	s := ""
	for i, id := range p {
		if i > 0 {
			s += " <- "
		}
		s += fmt.Sprintf("%s %d", m.SubType(id), id)
	}
	return s
}
