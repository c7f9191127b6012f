package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"surfreg/internal/models"
	"surfreg/internal/npyio"
	"surfreg/pkg/border"
	"surfreg/pkg/config"
	"surfreg/pkg/defmap"
	"surfreg/pkg/registration"
	"surfreg/pkg/sphere"
	"surfreg/pkg/stl"
	"surfreg/pkg/transport"
)

// Files written into a registration output directory
const (
	forwardMapFile     = "forward.map"
	inverseMapFile     = "inverse.map"
	deformedSphereFile = "deformed.sphere.coord.npy"
	deformedSTLFile    = "deformed.sphere.stl"
	workingSTLFile     = "working.sphere.stl"
	warningsFile       = "warnings.txt"
)

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s <command> [flags]\n\n", filepath.Base(os.Args[0]))
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  register   register a source subject onto a target subject")
	fmt.Fprintln(os.Stderr, "  apply      transport data with the result of a registration")
	fmt.Fprintln(os.Stderr, "  sphere     write a standard sphere")
	fmt.Fprintln(os.Stderr, "  config     write the default configuration file")
	fmt.Fprintf(os.Stderr, "\nRun '%s <command> -h' for the flags of a command.\n", filepath.Base(os.Args[0]))
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cmd, args := os.Args[1], os.Args[2:]
	switch cmd {
	case "register":
		runRegister(args)
	case "apply":
		runApply(args)
	case "sphere":
		runSphere(args)
	case "config":
		runConfig(args)
	case "-h", "-help", "--help", "help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", cmd)
		usage()
		os.Exit(1)
	}
}

func runRegister(args []string) {
	fs := flag.NewFlagSet("register", flag.ExitOnError)
	sourceDir := fs.String("source", "", "Source subject directory")
	targetDir := fs.String("target", "", "Target subject directory")
	configPath := fs.String("config", "surfreg.yaml", "Configuration file (defaults are used if it does not exist)")
	outputDir := fs.String("output", "registration", "Output directory")
	numCores := fs.Int("cores", 0, "Number of CPU cores to use (default: from config)")
	fs.Parse(args)

	if *sourceDir == "" || *targetDir == "" {
		fs.Usage()
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *numCores > 0 {
		cfg.Processing.NumCores = *numCores
	}
	schedule, err := cfg.RegistrationSchedule()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	fmt.Println("================================")
	fmt.Println("SPHERICAL LANDMARK REGISTRATION OF CORTICAL SURFACES")
	fmt.Println("================================")

	source, err := models.LoadSubject(*sourceDir)
	if err != nil {
		log.Fatalf("Failed to load source subject: %v", err)
	}
	target, err := models.LoadSubject(*targetDir)
	if err != nil {
		log.Fatalf("Failed to load target subject: %v", err)
	}
	fmt.Printf("Source: %d vertices, %d borders\n", source.Sphere.NumVertices(), len(source.Borders))
	fmt.Printf("Target: %d vertices, %d borders\n", target.Sphere.NumVertices(), len(target.Borders))

	registrar, err := registration.NewRegistrar(schedule, registration.Options{
		Workers: cfg.Processing.NumCores,
		Verbose: cfg.Output.Verbose,
	})
	if err != nil {
		log.Fatalf("Failed to create registrar: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	fmt.Printf("Starting registration with %d stages on %d cores...\n", len(schedule.Stages), cfg.Processing.NumCores)
	startTime := time.Now()
	res, err := registrar.Register(ctx, models.RegistrationInput(source, target))
	if err != nil {
		log.Fatalf("Registration failed: %v", err)
	}
	processingTime := time.Since(startTime)

	if err := os.MkdirAll(*outputDir, 0755); err != nil {
		log.Fatalf("Failed to create output directory: %v", err)
	}
	if err := res.Forward.Save(filepath.Join(*outputDir, forwardMapFile)); err != nil {
		log.Fatalf("Failed to save forward map: %v", err)
	}
	if res.Inverse != nil && cfg.Output.SaveInverseMap {
		if err := res.Inverse.Save(filepath.Join(*outputDir, inverseMapFile)); err != nil {
			log.Fatalf("Failed to save inverse map: %v", err)
		}
	}
	if err := npyio.SaveCoords(filepath.Join(*outputDir, deformedSphereFile), res.DeformedSourceSphere.Vertices); err != nil {
		log.Fatalf("Failed to save deformed sphere: %v", err)
	}
	if cfg.Output.SaveSTL {
		if err := stl.SaveMesh(filepath.Join(*outputDir, deformedSTLFile), res.DeformedSourceSphere); err != nil {
			log.Printf("Warning: Failed to save deformed sphere STL: %v", err)
		}
		if err := stl.SaveMesh(filepath.Join(*outputDir, workingSTLFile), res.Working.Source); err != nil {
			log.Printf("Warning: Failed to save working sphere STL: %v", err)
		}
	}
	if err := saveWarnings(filepath.Join(*outputDir, warningsFile), res.Warnings); err != nil {
		log.Printf("Warning: Failed to save warnings: %v", err)
	}

	fmt.Printf("\nRegistration completed in %.2f seconds!\n", processingTime.Seconds())
	fmt.Printf("Results saved to: %s\n\n", *outputDir)

	fmt.Println("Stages:")
	for i, st := range res.Stages {
		status := "completed"
		if st.Aborted {
			status = "aborted"
		}
		fmt.Printf("- Stage %d: %d vertices, %d landmarks on %d edges, crossovers per cycle %v, energy %.4g (%s)\n",
			i+1, st.Vertices, st.Landmarks, st.LandmarkEdges, st.CycleCrossovers, st.Energy, status)
	}
	if len(res.Matching.UnmatchedSource)+len(res.Matching.UnmatchedTarget) > 0 {
		fmt.Printf("Unmatched borders: source %v, target %v\n", res.Matching.UnmatchedSource, res.Matching.UnmatchedTarget)
	}
	if len(res.Warnings) > 0 {
		fmt.Println("\nWarnings:")
		for _, w := range res.Warnings {
			fmt.Printf("- %v\n", w)
		}
	}
}

func saveWarnings(path string, warnings []registration.Warning) error {
	var sb strings.Builder
	for _, w := range warnings {
		fmt.Fprintf(&sb, "stage %d cycle %d: %v\n", w.Stage+1, w.Cycle+1, w)
	}
	return os.WriteFile(path, []byte(sb.String()), 0644)
}

func runApply(args []string) {
	fs := flag.NewFlagSet("apply", flag.ExitOnError)
	regDir := fs.String("registration", "registration", "Registration output directory")
	sourceDir := fs.String("source", "", "Source subject directory of the registration")
	kind := fs.String("kind", "scalars", "Data kind: scalars, labels, coords or borders")
	inputPath := fs.String("input", "", "Input file (.npy, or .yaml for borders)")
	outputPath := fs.String("output", "", "Output file")
	inverse := fs.Bool("inverse", false, "Map target data back onto the source with the inverse map")
	numCores := fs.Int("cores", runtime.NumCPU(), "Number of CPU cores to use (default: all available)")
	fs.Parse(args)

	if *inputPath == "" || *outputPath == "" {
		fs.Usage()
		os.Exit(1)
	}

	if *inverse {
		m, err := defmap.Load(filepath.Join(*regDir, inverseMapFile))
		if err != nil {
			log.Fatalf("Failed to load inverse map: %v", err)
		}
		if err := applyMap(m, *kind, *inputPath, *outputPath); err != nil {
			log.Fatalf("Failed to apply inverse map: %v", err)
		}
		fmt.Printf("Mapped %s onto the source surface: %s\n", *kind, *outputPath)
		return
	}

	if *sourceDir == "" {
		log.Fatalf("-source is required for forward transport")
	}
	src, err := models.LoadSubject(*sourceDir)
	if err != nil {
		log.Fatalf("Failed to load source subject: %v", err)
	}
	fwd, err := defmap.Load(filepath.Join(*regDir, forwardMapFile))
	if err != nil {
		log.Fatalf("Failed to load forward map: %v", err)
	}
	coords, err := npyio.LoadCoords(filepath.Join(*regDir, deformedSphereFile))
	if err != nil {
		log.Fatalf("Failed to load deformed sphere: %v", err)
	}
	if len(coords) != src.Sphere.NumVertices() {
		log.Fatalf("Deformed sphere has %d vertices, source sphere %d", len(coords), src.Sphere.NumVertices())
	}
	tr, err := transport.New(fwd, src.Sphere, src.Sphere.WithPositions(coords), *numCores)
	if err != nil {
		log.Fatalf("Registration does not match the source subject: %v", err)
	}

	if err := applyTransport(tr, *kind, *inputPath, *outputPath); err != nil {
		log.Fatalf("Failed to transport %s: %v", *kind, err)
	}
	fmt.Printf("Mapped %s onto the target surface: %s\n", *kind, *outputPath)
}

func applyTransport(tr *transport.Transporter, kind, in, out string) error {
	switch kind {
	case "scalars":
		v, err := npyio.LoadScalars(in)
		if err != nil {
			return err
		}
		if v, err = tr.Scalars(v); err != nil {
			return err
		}
		return npyio.SaveScalars(out, v)
	case "labels":
		v, err := npyio.LoadLabels(in)
		if err != nil {
			return err
		}
		if v, err = tr.Labels(v); err != nil {
			return err
		}
		return npyio.SaveLabels(out, v)
	case "coords":
		v, err := npyio.LoadCoords(in)
		if err != nil {
			return err
		}
		if v, err = tr.Coordinates(v); err != nil {
			return err
		}
		return npyio.SaveCoords(out, v)
	case "borders":
		b, err := border.LoadFile(in)
		if err != nil {
			return err
		}
		if b, err = tr.Borders(b); err != nil {
			return err
		}
		return border.SaveFile(out, b)
	default:
		return fmt.Errorf("unknown data kind %q", kind)
	}
}

func applyMap(m *defmap.Map, kind, in, out string) error {
	switch kind {
	case "scalars":
		v, err := npyio.LoadScalars(in)
		if err != nil {
			return err
		}
		if v, err = m.TransportScalars(v); err != nil {
			return err
		}
		return npyio.SaveScalars(out, v)
	case "labels":
		v, err := npyio.LoadLabels(in)
		if err != nil {
			return err
		}
		if v, err = m.TransportLabels(v); err != nil {
			return err
		}
		return npyio.SaveLabels(out, v)
	case "coords":
		v, err := npyio.LoadCoords(in)
		if err != nil {
			return err
		}
		if v, err = m.TransportCoordinates(v); err != nil {
			return err
		}
		return npyio.SaveCoords(out, v)
	default:
		return fmt.Errorf("data kind %q cannot be mapped with a deformation map alone", kind)
	}
}

func runSphere(args []string) {
	fs := flag.NewFlagSet("sphere", flag.ExitOnError)
	vertices := fs.Int("vertices", 2562, "Number of vertices (a standard resolution, or the minimum count)")
	radius := fs.Float64("radius", 100, "Sphere radius")
	outputDir := fs.String("output", ".", "Output directory")
	saveSTL := fs.Bool("stl", false, "Also write an STL file")
	fs.Parse(args)

	m, err := sphere.Regular(*vertices)
	if err != nil {
		log.Fatalf("Failed to build sphere: %v", err)
	}
	m.ProjectToSphere(*radius)

	base := filepath.Join(*outputDir, fmt.Sprintf("sphere.%d", m.NumVertices()))
	if err := os.MkdirAll(*outputDir, 0755); err != nil {
		log.Fatalf("Failed to create output directory: %v", err)
	}
	if err := npyio.SaveMesh(base+".coord.npy", base+".topo.npy", m); err != nil {
		log.Fatalf("Failed to save sphere: %v", err)
	}
	if *saveSTL {
		if err := stl.SaveMesh(base+".stl", m); err != nil {
			log.Fatalf("Failed to save STL: %v", err)
		}
	}
	fmt.Printf("Sphere with %d vertices and %d triangles saved to: %s\n", m.NumVertices(), m.NumTriangles(), base)
}

func runConfig(args []string) {
	fs := flag.NewFlagSet("config", flag.ExitOnError)
	outputPath := fs.String("output", "surfreg.yaml", "Configuration file to write")
	fs.Parse(args)

	if err := config.CreateDefaultConfigFile(*outputPath); err != nil {
		log.Fatalf("Failed to write configuration: %v", err)
	}
	fmt.Printf("Default configuration (%d cores) written to: %s\n", runtime.NumCPU(), *outputPath)
}
