package main

import (
	"fmt"
	"log"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/vireo-systems/fatvol"
	"github.com/vireo-systems/fatvol/blockdevice"
	"github.com/vireo-systems/fatvol/disks"
	"github.com/vireo-systems/fatvol/file_systems/fat"
	"github.com/vireo-systems/fatvol/utilities/compression"
)

func main() {
	app := cli.App{
		Usage: "Manage FAT16/FAT32 disk image files",
		Commands: []*cli.Command{
			{
				Name:      "format",
				Usage:     "Create or wipe a FAT image file",
				Action:    formatImage,
				ArgsUsage: "IMAGE_FILE",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "fat-type", Value: 16, Usage: "16 or 32"},
					&cli.StringFlag{Name: "geometry", Usage: "predefined disk geometry slug"},
					&cli.Uint64Flag{Name: "sectors", Usage: "total 512-byte sectors, overrides --geometry"},
					&cli.StringFlag{Name: "label", Value: "NONAME"},
				},
			},
			{
				Name:      "ls",
				Usage:     "List a directory inside an image",
				Action:    listDirectory,
				ArgsUsage: "IMAGE_FILE [PATH]",
			},
			{
				Name:      "cat",
				Usage:     "Print a file's contents to stdout",
				Action:    catFile,
				ArgsUsage: "IMAGE_FILE PATH",
			},
			{
				Name:      "mkdir",
				Usage:     "Create a directory (and its parents) inside an image",
				Action:    makeDirectory,
				ArgsUsage: "IMAGE_FILE PATH",
			},
			{
				Name:      "archive",
				Usage:     "RLE8+gzip an image file for long-term storage",
				Action:    archiveImage,
				ArgsUsage: "IMAGE_FILE ARCHIVE_FILE",
			},
			{
				Name:      "restore",
				Usage:     "Expand an archive produced by \"archive\" back into an image file",
				Action:    restoreImage,
				ArgsUsage: "ARCHIVE_FILE IMAGE_FILE",
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("fatal error: %s", err.Error())
	}
}

func formatImage(ctx *cli.Context) error {
	imagePath := ctx.Args().First()
	if imagePath == "" {
		return fmt.Errorf("missing IMAGE_FILE argument")
	}

	totalSectors := ctx.Uint64("sectors")
	if totalSectors == 0 {
		var geometry disks.DiskGeometry
		var err error
		if slug := ctx.String("geometry"); slug != "" {
			geometry, err = disks.GetPredefinedDiskGeometry(slug)
		} else {
			geometry, err = disks.SmallestGeometryFitting(64 * 1024 * 1024)
		}
		if err != nil {
			return err
		}
		totalSectors = uint64(geometry.TotalSizeBytes()) / blockdevice.SectorSize
	}

	file, err := os.OpenFile(imagePath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer file.Close()

	if err := file.Truncate(int64(totalSectors) * blockdevice.SectorSize); err != nil {
		return err
	}

	device := blockdevice.NewStreamDevice(file, uint(totalSectors))
	opts := fat.DefaultFormatOptions(ctx.Int("fat-type"))
	opts.VolumeLabel = ctx.String("label")

	return fat.Format(device, opts)
}

// openDriver mounts the image at imagePath and returns a driver bound to it
// plus a closer the caller must run once it's done with the driver.
func openDriver(imagePath string) (*fat.FATDriver, func() error, error) {
	file, err := os.OpenFile(imagePath, os.O_RDWR, 0o644)
	if err != nil {
		return nil, nil, err
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, nil, err
	}

	device := blockdevice.NewStreamDevice(file, uint(info.Size())/blockdevice.SectorSize)
	vol, err := fat.Mount(device, "/", fatvol.MountFlagsAllowAll)
	if err != nil {
		file.Close()
		return nil, nil, err
	}

	return fat.NewFATDriver(vol), file.Close, nil
}

func listDirectory(ctx *cli.Context) error {
	imagePath := ctx.Args().First()
	if imagePath == "" {
		return fmt.Errorf("missing IMAGE_FILE argument")
	}
	dirPath := ctx.Args().Get(1)
	if dirPath == "" {
		dirPath = "/"
	}

	drv, closeFile, err := openDriver(imagePath)
	if err != nil {
		return err
	}
	defer closeFile()

	entries, err := drv.Readdir(dirPath)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		marker := "-"
		if entry.IsDir() {
			marker = "d"
		}
		fmt.Printf("%s %10d %s\n", marker, entry.Size(), entry.Name())
	}
	return nil
}

func catFile(ctx *cli.Context) error {
	imagePath := ctx.Args().First()
	filePath := ctx.Args().Get(1)
	if imagePath == "" || filePath == "" {
		return fmt.Errorf("usage: cat IMAGE_FILE PATH")
	}

	drv, closeFile, err := openDriver(imagePath)
	if err != nil {
		return err
	}
	defer closeFile()

	data, err := drv.ReadFile(filePath)
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(data)
	return err
}

func makeDirectory(ctx *cli.Context) error {
	imagePath := ctx.Args().First()
	dirPath := ctx.Args().Get(1)
	if imagePath == "" || dirPath == "" {
		return fmt.Errorf("usage: mkdir IMAGE_FILE PATH")
	}

	drv, closeFile, err := openDriver(imagePath)
	if err != nil {
		return err
	}
	defer closeFile()

	return drv.MkdirAll(dirPath, 0o755)
}

func archiveImage(ctx *cli.Context) error {
	imagePath := ctx.Args().First()
	archivePath := ctx.Args().Get(1)
	if imagePath == "" || archivePath == "" {
		return fmt.Errorf("usage: archive IMAGE_FILE ARCHIVE_FILE")
	}

	input, err := os.Open(imagePath)
	if err != nil {
		return err
	}
	defer input.Close()

	output, err := os.OpenFile(archivePath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer output.Close()

	_, err = compression.CompressImage(input, output)
	return err
}

func restoreImage(ctx *cli.Context) error {
	archivePath := ctx.Args().First()
	imagePath := ctx.Args().Get(1)
	if archivePath == "" || imagePath == "" {
		return fmt.Errorf("usage: restore ARCHIVE_FILE IMAGE_FILE")
	}

	input, err := os.Open(archivePath)
	if err != nil {
		return err
	}
	defer input.Close()

	output, err := os.OpenFile(imagePath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer output.Close()

	_, err = compression.DecompressImage(input, output)
	return err
}
