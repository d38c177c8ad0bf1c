package main

import (
	"flag"
	"fmt"
	"image/color"
	"os"

	"github.com/disintegration/imaging"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/dudu/eyebox/internal/classifier"
	"github.com/dudu/eyebox/internal/extractor"
	"github.com/dudu/eyebox/internal/inference"
)

func main() {
	lib := flag.String("lib", os.Getenv("ONNXRUNTIME_LIB"), "Path to the ONNX Runtime shared library")
	input := flag.String("input", "input", "Model input name")
	output := flag.String("output", "output", "Model output name")
	size := flag.Int("size", 128, "Eye crop side length")
	layout := flag.String("layout", "nhwc", "Input layout: nhwc or nchw")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: eyeprobe [options] <model.onnx>\n\n")
		fmt.Fprintf(os.Stderr, "Checks that ONNX Runtime can load an eye-state model and run it.\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(1)
	}

	modelPath := flag.Arg(0)
	fmt.Printf("Testing eye-state model: %s\n", modelPath)

	if _, err := os.Stat(modelPath); os.IsNotExist(err) {
		fmt.Printf("Error: File not found: %s\n", modelPath)
		os.Exit(1)
	}

	fmt.Println("Initializing ONNX Runtime...")
	if err := inference.Initialize(*lib); err != nil {
		fmt.Printf("❌ %v\n", err)
		fmt.Println("\nSet --lib or ONNXRUNTIME_LIB to the onnxruntime shared library.")
		os.Exit(1)
	}
	defer inference.Shutdown()

	fmt.Println("✓ ONNX Runtime initialized")

	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		fmt.Printf("❌ Failed to get model info: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("\nInputs (%d):\n", len(inputs))
	for _, info := range inputs {
		fmt.Printf("  %s: shape=%v, type=%v\n", info.Name, info.Dimensions, info.DataType)
	}
	fmt.Printf("\nOutputs (%d):\n", len(outputs))
	for _, info := range outputs {
		fmt.Printf("  %s: shape=%v, type=%v\n", info.Name, info.Dimensions, info.DataType)
	}

	model, err := classifier.NewONNXModel(classifier.ONNXConfig{
		ModelPath:  modelPath,
		InputName:  *input,
		OutputName: *output,
		Threads:    1,
	})
	if err != nil {
		fmt.Printf("❌ %v\n", err)
		os.Exit(1)
	}
	adapter, err := classifier.NewAdapter(model, *size, classifier.Layout(*layout))
	if err != nil {
		model.Close()
		fmt.Printf("❌ %v\n", err)
		os.Exit(1)
	}
	defer adapter.Close()

	// A flat gray crop should land somewhere near the decision boundary.
	crop := &extractor.EyeCrop{Image: imaging.New(*size, *size, color.NRGBA{R: 128, G: 128, B: 128, A: 255})}
	out := adapter.Classify(crop)
	if adapter.Failures() > 0 {
		fmt.Println("\n❌ Inference failed, see log output above")
		os.Exit(1)
	}

	fmt.Println("\n✅ SUCCESS! Model runs.")
	fmt.Printf("  gray crop: closed=%.3f open=%.3f\n", out.Closed, out.Open)
}
