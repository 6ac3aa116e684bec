// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// pivotal_prepare indexes a directory of instance images and writes a preview of the training
// examples: augmented images, masks and the resolved prompts with their token ids.
//
// Example:
//
//	pivotal_prepare -root ~/work/dog -template object -token "<krk>=sks dog" -preview 8 -out /tmp/preview
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/gomlx/pkg/ml/datasets"
	"github.com/janpfeifer/must"
	"github.com/loratune/pivotal/pkg/core/planar"
	"github.com/loratune/pivotal/pkg/ml/masks"
	"github.com/loratune/pivotal/pkg/ml/pivotal"
	"github.com/loratune/pivotal/pkg/ml/prompts"
	"github.com/loratune/pivotal/pkg/ml/tokenize"
	"github.com/loratune/pivotal/pkg/support/fsutil"
	"github.com/loratune/pivotal/pkg/support/hfweights"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"
)

// tokenFlags collects repeated -token flags.
type tokenFlags []string

func (t *tokenFlags) String() string { return strings.Join(*t, ",") }

func (t *tokenFlags) Set(value string) error {
	*t = append(*t, value)
	return nil
}

var (
	flagRoot     = flag.String("root", "", "Directory with the instance images.")
	flagTemplate = flag.String("template", "", fmt.Sprintf("Template set for the prompts, one of %q. "+
		"If empty the captions (file names or caption.txt) are used.", prompts.TemplateNames()))
	flagSubject = flag.String("subject", "", "Subject token used in templates. Defaults to the value of the first -token.")

	flagSize   = flag.Int("size", 512, "Size of the square training images.")
	flagFlip   = flag.Bool("flip", true, "Randomly flip images horizontally.")
	flagJitter = flag.Bool("jitter", false, "Random brightness and contrast changes.")
	flagResize = flag.Bool("resize", true, "Resize the shorter edge of the images to -size before cropping.")

	flagMaskCaptioned = flag.Bool("mask_captioned", false, "Use the {idx}.src.jpg / {idx}.mask.png / caption.txt layout.")
	flagFace          = flag.Bool("face", false, "Load face masks ({idx}.mask.png), they must have been generated already.")
	flagInpainting    = flag.Bool("inpainting", false, "Generate random cutout inpainting masks.")

	flagTokenizer = flag.String("tokenizer", "openai/clip-vit-large-patch14", "HuggingFace repository of the tokenizer.")
	flagHFToken   = flag.String("hf_token", "", "HuggingFace authentication token, for private or gated repositories.")
	flagMaxLength = flag.Int("max_length", tokenize.DefaultMaxLength, "Maximum number of prompt tokens.")

	flagPrefetchClipSeg = flag.Bool("prefetch_clipseg", false, "Only warms the local HuggingFace cache with the ClipSeg model files, "+
		"for programs that provide a masks.Segmenter. ClipSeg masks are not generated by this tool.")

	flagPreview = flag.Int("preview", 4, "Number of examples to write to -out.")
	flagOut     = flag.String("out", "", "Directory where to write the preview. If empty only the dataset summary is printed.")
	flagSeed    = flag.Int64("seed", 0, "Random seed. If 0 a time based seed is used.")

	flagBenchmark   = flag.Int("benchmark", 0, "If > 0, measure the throughput of generating this many examples in parallel.")
	flagParallelism = flag.Int("parallelism", 0, "Number of goroutines used by -benchmark. If 0, the number of cores plus 1.")
)

var flagTokens tokenFlags

func main() {
	flag.Var(&flagTokens, "token", "Placeholder token and its replacement, as \"placeholder=value\". Can be repeated.")
	klog.InitFlags(nil)
	flag.Parse()
	ctx := context.Background()

	if *flagPrefetchClipSeg {
		clipSegConfig := masks.DefaultClipSegConfig()
		paths := must.M1(hfweights.Download(ctx, clipSegConfig.ModelID, *flagHFToken,
			"config.json", "preprocessor_config.json", "model.safetensors"))
		fmt.Printf("ClipSeg model %q cached in %s\n", clipSegConfig.ModelID, filepath.Dir(paths[0]))
	}
	if *flagRoot == "" {
		klog.Fatalf("-root is required")
	}

	config := pivotal.DefaultConfig()
	config.Root = *flagRoot
	config.Template = *flagTemplate
	config.Augment.Size = *flagSize
	config.Augment.HFlip = *flagFlip
	config.Augment.ColorJitter = *flagJitter
	config.Augment.Resize = *flagResize
	config.UseMaskCaptionedData = *flagMaskCaptioned
	config.UseFaceSegmentation = *flagFace
	config.TrainInpainting = *flagInpainting
	if *flagSeed != 0 {
		config.Seed = *flagSeed
	}
	tokenMap, err := prompts.ParseTokenMap(*flagSubject, flagTokens)
	if err != nil {
		klog.Fatalf("Invalid -token: %+v", err)
	}
	if tokenMap.Len() > 0 || tokenMap.Subject != "" {
		config.TokenMap = tokenMap
	}
	config.Tokenizer, err = tokenize.FromHub(*flagTokenizer, *flagHFToken, *flagMaxLength)
	if err != nil {
		klog.Fatalf("Failed to load tokenizer: %+v", err)
	}

	start := time.Now()
	ds, err := pivotal.New(ctx, config)
	if err != nil {
		klog.Fatalf("Failed to create dataset: %+v", err)
	}
	fmt.Printf("%s instances in %q (indexed in %s)\n", humanize.Comma(int64(ds.Len())), ds.Root(), time.Since(start))
	fmt.Printf("Example kind: %s\n", ds.Kind())
	for ii, rec := range ds.Records() {
		klog.V(1).Infof("#%d: image=%q mask=%q caption=%q", ii, rec.ImagePath, rec.MaskPath, rec.Caption)
	}
	if *flagOut != "" && *flagPreview > 0 {
		outDir := must.M1(fsutil.ReplaceTildeInDir(*flagOut))
		must.M(os.MkdirAll(outDir, 0o755))
		writePreview(ctx, ds, outDir, *flagPreview)
	}
	if *flagBenchmark > 0 {
		benchmark(ctx, ds, *flagBenchmark)
	}
}

// benchmark yields numExamples examples with datasets.Parallel, the way a training loop would
// consume them, and reports the throughput.
func benchmark(ctx context.Context, ds *pivotal.Dataset, numExamples int) {
	yielder := ds.Yielder("benchmark").WithContext(ctx).Infinite(true)
	pds := datasets.CustomParallel(yielder).Parallelism(*flagParallelism).Start()
	defer pds.Done()
	start := time.Now()
	for range numExamples {
		_, inputs, _, err := pds.Yield()
		if err != nil {
			klog.Fatalf("Failed to yield example: %+v", err)
		}
		for _, t := range inputs {
			must.M(t.FinalizeAll())
		}
	}
	elapsed := time.Since(start)
	fmt.Printf("%s examples in %s: %.1f examples/s\n", humanize.Comma(int64(numExamples)), elapsed,
		float64(numExamples)/elapsed.Seconds())
}

// writePreview writes numExamples examples as PNG files in outDir, and their prompts in "prompts.txt".
func writePreview(ctx context.Context, ds *pivotal.Dataset, outDir string, numExamples int) {
	promptsFile := must.M1(os.Create(filepath.Join(outDir, "prompts.txt")))
	defer func() { must.M(promptsFile.Close()) }()

	bar := progressbar.NewOptions(numExamples,
		progressbar.OptionSetDescription("Preview"),
		progressbar.OptionUseANSICodes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionSetTheme(progressbar.ThemeUnicode),
	)
	for ii := range numExamples {
		example, err := ds.Example(ctx, ii)
		if err != nil {
			klog.Fatalf("Failed to build example #%d: %+v", ii, err)
		}
		base := example.Base()
		prefix := filepath.Join(outDir, fmt.Sprintf("%03d", ii))
		savePlanar(prefix+".png", base.Image, -1, 1)
		switch e := example.(type) {
		case *pivotal.InpaintingExample:
			savePlanar(prefix+".inpaint_mask.png", e.Mask, 0, 1)
			savePlanar(prefix+".masked.png", e.MaskedImage, -1, 1)
		case *pivotal.MaskedCaptionExample:
			savePlanar(prefix+".mask.png", e.CaptionMask, 0.5, 1.5)
		case *pivotal.MaskedInpaintingExample:
			savePlanar(prefix+".inpaint_mask.png", e.Mask, 0, 1)
			savePlanar(prefix+".masked.png", e.MaskedImage, -1, 1)
			savePlanar(prefix+".mask.png", e.CaptionMask, 0.5, 1.5)
		}
		must.M1(fmt.Fprintf(promptsFile, "%03d\t%s\t%q\t%v\n", ii, example.Kind(), base.Prompt, base.PromptIDs))
		_ = bar.Add(1)
	}
	_ = bar.Close()
	fmt.Printf("\n%d examples written to %q\n", numExamples, outDir)
}

func savePlanar(filePath string, img *planar.Image, minValue, maxValue float64) {
	converted := must.M1(planar.ToImage().Range(minValue, maxValue).Single(img))
	must.M(imaging.Save(converted, filePath))
}
