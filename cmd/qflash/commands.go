package main

import (
	"bytes"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/qedl/qflash"
	"github.com/qedl/qflash/internal/constants"
	"github.com/qedl/qflash/internal/firehose"
	"github.com/qedl/qflash/internal/gpt"
	"github.com/qedl/qflash/internal/loader"
	"github.com/qedl/qflash/internal/logging"
	"github.com/qedl/qflash/internal/pkgvalidate"
	"github.com/qedl/qflash/internal/sahara"
	"github.com/qedl/qflash/internal/transport"
)

func newErasePartCmd() *cobra.Command {
	var startSector, numSectors int64
	cmd := &cobra.Command{
		Use:   "erase_part",
		Short: "Zero a sector range on one LUN",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, t, err := openFirehose()
			if err != nil {
				return err
			}
			defer t.Close()

			return engine.Erase(firehose.EraseTag{
				PhysicalPartitionNumber: flagLUN,
				StartSector:             strconv.FormatInt(startSector, 10),
				NumPartitionSectors:     numSectors,
				SectorSizeInBytes:       flagSector,
			})
		},
	}
	cmd.Flags().Int64Var(&startSector, "start-sector", 0, "first sector to erase")
	cmd.Flags().Int64Var(&numSectors, "num-sectors", 0, "number of sectors to erase")
	return cmd
}

func newReadPartCmd() *cobra.Command {
	var startSector, numSectors int64
	var out string
	cmd := &cobra.Command{
		Use:   "read_part",
		Short: "Read a sector range from one LUN to a local file",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, t, err := openFirehose()
			if err != nil {
				return err
			}
			defer t.Close()

			f, err := os.Create(out)
			if err != nil {
				return fmt.Errorf("create %s: %w", out, err)
			}
			defer f.Close()

			return engine.Read(firehose.ReadTag{
				PhysicalPartitionNumber: flagLUN,
				StartSector:             strconv.FormatInt(startSector, 10),
				NumPartitionSectors:     numSectors,
				SectorSizeInBytes:       flagSector,
				Filename:                out,
			}, f, nil)
		},
	}
	cmd.Flags().Int64Var(&startSector, "start-sector", 0, "first sector to read")
	cmd.Flags().Int64Var(&numSectors, "num-sectors", 0, "number of sectors to read")
	cmd.Flags().StringVar(&out, "out", "", "local file to write")
	cmd.MarkFlagRequired("out")
	return cmd
}

func newWritePartCmd() *cobra.Command {
	var startSector int64
	var in, label string
	cmd := &cobra.Command{
		Use:   "write_part",
		Short: "Write a local file to a sector range on one LUN",
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(in)
			if err != nil {
				return fmt.Errorf("open %s: %w", in, err)
			}
			defer f.Close()

			st, err := f.Stat()
			if err != nil {
				return err
			}
			numSectors := (st.Size() + int64(flagSector) - 1) / int64(flagSector)

			engine, t, err := openFirehose()
			if err != nil {
				return err
			}
			defer t.Close()

			return engine.Program(firehose.ProgramTag{
				PhysicalPartitionNumber: flagLUN,
				StartSector:             strconv.FormatInt(startSector, 10),
				NumPartitionSectors:     numSectors,
				SectorSizeInBytes:       flagSector,
				Filename:                in,
				Label:                   label,
			}, f, nil)
		},
	}
	cmd.Flags().Int64Var(&startSector, "start-sector", 0, "first sector to write")
	cmd.Flags().StringVar(&in, "in", "", "local file to program")
	cmd.Flags().StringVar(&label, "label", "", "partition label")
	cmd.MarkFlagRequired("in")
	return cmd
}

func newWriteFromXMLCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "write_from_xml",
		Short: "Program every <program> entry named in a rawprogram*.xml file",
		RunE: func(cmd *cobra.Command, args []string) error {
			fs := afero.NewOsFs()
			entries, err := pkgvalidate.ParseRawProgramFile(fs, file)
			if err != nil {
				return err
			}

			engine, t, err := openFirehose()
			if err != nil {
				return err
			}
			defer t.Close()

			for _, e := range entries {
				if err := programFileEntry(engine, fs, e); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "rawprogram*.xml path")
	cmd.MarkFlagRequired("file")
	return cmd
}

func programFileEntry(engine *firehose.Engine, fs afero.Fs, e pkgvalidate.RawProgramEntry) error {
	if e.Filename == "" {
		return nil
	}
	path := filepath.Join(e.SourceDir, e.Filename)
	f, err := fs.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return err
	}
	numSectors := (st.Size() + int64(flagSector) - 1) / int64(flagSector)

	return engine.Program(firehose.ProgramTag{
		PhysicalPartitionNumber: flagLUN,
		StartSector:             "0",
		NumPartitionSectors:     numSectors,
		SectorSizeInBytes:       flagSector,
		Filename:                e.Filename,
		Label:                   e.Label,
	}, f, nil)
}

func newReadGPTCmd() *cobra.Command {
	var luns int
	cmd := &cobra.Command{
		Use:   "read_gpt",
		Short: "Dump the partition table for each LUN",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, t, err := openFirehose()
			if err != nil {
				return err
			}
			defer t.Close()

			obs := cliObserver{}
			for lun := 0; lun < luns; lun++ {
				table, err := readGPT(engine, lun, flagSector)
				if err != nil {
					return fmt.Errorf("lun %d: %w", lun, err)
				}
				doc, err := partitionTableDoc(lun, flagSector, table)
				if err != nil {
					return fmt.Errorf("lun %d: %w", lun, err)
				}
				obs.ObservePartitionTable(lun, doc)
				for _, p := range table.Partitions {
					fmt.Printf("lun=%d name=%s first_lba=%d last_lba=%d\n", lun, p.Name, p.FirstLBA, p.LastLBA)
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&luns, "luns", 6, "number of LUNs to scan")
	return cmd
}

func readGPT(engine *firehose.Engine, lun, sectorSize int) (gpt.Table, error) {
	var headerBuf bytes.Buffer
	if err := engine.Read(firehose.ReadTag{
		PhysicalPartitionNumber: lun,
		StartSector:             "0",
		NumPartitionSectors:     2,
		SectorSizeInBytes:       sectorSize,
		Filename:                "gpt_header",
	}, &headerBuf, nil); err != nil {
		return gpt.Table{}, err
	}

	data := headerBuf.Bytes()
	if len(data) < 2*sectorSize {
		return gpt.Table{}, fmt.Errorf("short read: got %d bytes", len(data))
	}
	header, err := gpt.ParseHeader(data[sectorSize : 2*sectorSize])
	if err != nil {
		return gpt.Table{}, err
	}

	entryBytes := int64(header.NumPartEntries) * int64(header.PartEntrySize)
	entrySectors := (entryBytes + int64(sectorSize) - 1) / int64(sectorSize)

	var entryBuf bytes.Buffer
	if err := engine.Read(firehose.ReadTag{
		PhysicalPartitionNumber: lun,
		StartSector:             strconv.FormatUint(header.PartEntryStartLBA, 10),
		NumPartitionSectors:     entrySectors,
		SectorSizeInBytes:       sectorSize,
		Filename:                "gpt_entries",
	}, &entryBuf, nil); err != nil {
		return gpt.Table{}, err
	}

	parts, err := gpt.ParseEntries(header, entryBuf.Bytes())
	if err != nil {
		return gpt.Table{}, err
	}
	return gpt.Table{Header: header, Partitions: parts}, nil
}

// partitionTableDoc renders a LUN's parsed GPT as the <data> document of
// <program> children update_partition_table consumers expect: one child
// per non-empty entry, start_sector from first_lba and
// num_partition_sectors spanning through last_lba inclusive.
func partitionTableDoc(lun, sectorSize int, table gpt.Table) ([]byte, error) {
	tags := make([]firehose.ProgramTag, 0, len(table.Partitions))
	for _, p := range table.Partitions {
		tags = append(tags, firehose.ProgramTag{
			PhysicalPartitionNumber: lun,
			StartSector:             strconv.FormatUint(p.FirstLBA, 10),
			NumPartitionSectors:     int64(p.LastLBA - p.FirstLBA + 1),
			SectorSizeInBytes:       sectorSize,
			Label:                   p.Name,
		})
	}
	return firehose.ComposeProgramsDoc(tags)
}

func newReadDeviceInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "read_device_info",
		Short: "Print storage info for the configured LUN",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, t, err := openFirehose()
			if err != nil {
				return err
			}
			defer t.Close()

			info, err := engine.GetStorageInfo(flagLUN)
			if err != nil {
				return err
			}
			fmt.Printf("Device Total Physical Partitions:%d\n", info.NumPhysical)
			fmt.Printf("Device Serial Number:0x%x\n", info.SerialNum)
			fmt.Printf("Storage:%s %s fw=%s\n", info.MemoryType, info.ProdName, info.FWVersion)
			return nil
		},
	}
}

func newIdentifyLoaderCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "identify_loader",
		Short: "Identify the SoC and root CAs of a programmer image",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			id := loader.Identify(data)
			if id == "" {
				id = "(unknown)"
			}
			fmt.Printf("loader: %s\n", id)
			for hash := range loader.RootCAHashes(data) {
				fmt.Printf("root_ca_sha384: %s\n", hash)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "programmer image path")
	cmd.MarkFlagRequired("file")
	return cmd
}

func newRebootCmd(use, resetValue string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: fmt.Sprintf("Send <power value=%q/>", resetValue),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, t, err := openFirehose()
			if err != nil {
				return err
			}
			defer t.Close()
			return engine.Reset(resetValue)
		},
	}
}

func newSendLoaderCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "send_loader",
		Short: "Run the Sahara handshake and upload a programmer image",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(file)
			if err != nil {
				return err
			}

			port, err := resolvePort()
			if err != nil {
				return err
			}
			t, err := transport.New(transport.DefaultConfig(port))
			if err != nil {
				return err
			}
			defer t.Close()

			engine := sahara.NewEngine(t, cliObserver{}, logging.Default().WithSession(port).WithOp("send_loader"))
			res, err := engine.Run(fileImageSource(data))
			if err != nil {
				return err
			}
			if res.Bypassed {
				fmt.Println("device already in Firehose mode, skipped upload")
			} else {
				fmt.Println("loader uploaded")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "programmer image path")
	cmd.MarkFlagRequired("file")
	return cmd
}

// fileImageSource serves a single in-memory image as sahara.ImageSource.
// Every image index maps to it: devices are known to request the sole
// programmer image under a nonzero image field.
type fileImageSource []byte

func (s fileImageSource) ReadAt(image int, offset int64, p []byte) (int, error) {
	if offset >= int64(len(s)) {
		return 0, nil
	}
	n := copy(p, s[offset:])
	return n, nil
}

func (s fileImageSource) Size(image int) int64 {
	return int64(len(s))
}

func newSendPingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send_ping",
		Short: "Send a Firehose <nop/> and expect an Ack",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, t, err := openFirehose()
			if err != nil {
				return err
			}
			defer t.Close()
			return engine.Nop()
		},
	}
}

func newSwitchSlotCmd() *cobra.Command {
	var slot string
	cmd := &cobra.Command{
		Use:   "switch_slot",
		Short: "Set the active boot slot (A or B)",
		RunE: func(cmd *cobra.Command, args []string) error {
			value := 1
			if slot == "B" || slot == "b" {
				value = 2
			}
			engine, t, err := openFirehose()
			if err != nil {
				return err
			}
			defer t.Close()
			return engine.SetBootableStorageDrive(value)
		},
	}
	cmd.Flags().StringVar(&slot, "slot", "A", "A or B")
	return cmd
}

func newStartFlashingCmd() *cobra.Command {
	var root string
	var protectLUN5 bool
	cmd := &cobra.Command{
		Use:   "start_flashing",
		Short: "Validate and flash an EDL package, blocking until done",
		RunE: func(cmd *cobra.Command, args []string) error {
			orch := qflash.NewFlashOrchestrator()
			params := qflash.FlashParams{
				Fs:            afero.NewOsFs(),
				PackageRoot:   root,
				IsProtectLUN5: protectLUN5,
				Port:          flagPort,
				Observer:      cliObserver{},
				Logger:        logging.Default(),
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			if err := orch.Start(ctx, params); err != nil {
				return err
			}
			for orch.State().IsRunning() {
				time.Sleep(100 * time.Millisecond)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&root, "package-root", "", "EDL package directory (contains META/ and IMAGES/)")
	cmd.Flags().BoolVar(&protectLUN5, "protect-lun5", false, "narrow rawprogram/patch indices to 0..4")
	cmd.MarkFlagRequired("package-root")
	return cmd
}

func newStopFlashingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop_flashing",
		Short: "Cancel the in-progress start_flashing invocation",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("send SIGINT/SIGTERM to the running start_flashing process to cancel it")
			return nil
		},
	}
}

func newUpdatePortCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "update_port",
		Short: "Re-enumerate and print the serial port that would be used",
		RunE: func(cmd *cobra.Command, args []string) error {
			port, err := resolvePort()
			if err != nil {
				return err
			}
			fmt.Println(port)
			return nil
		},
	}
}

func newSaveToXMLCmd() *cobra.Command {
	var root, out string
	cmd := &cobra.Command{
		Use:   "save_to_xml",
		Short: "Validate an EDL package and concatenate its flash plan into one XML scratch file",
		RunE: func(cmd *cobra.Command, args []string) error {
			fs := afero.NewOsFs()
			pkg, err := pkgvalidate.Validate(fs, root, false)
			if err != nil {
				return err
			}
			if out == "" {
				out = filepath.Join("res", fmt.Sprintf("cmd-%s.xml", uuid.NewString()))
			}

			var buf bytes.Buffer
			for _, e := range pkg.RawPrograms {
				buf.Write(e.Document)
				buf.WriteByte('\n')
			}
			for _, path := range pkg.PatchFiles {
				data, err := afero.ReadFile(fs, path)
				if err != nil {
					return err
				}
				buf.Write(data)
				buf.WriteByte('\n')
			}
			return afero.WriteFile(fs, out, buf.Bytes(), 0o644)
		},
	}
	cmd.Flags().StringVar(&root, "package-root", "", "EDL package directory")
	cmd.Flags().StringVar(&out, "out", "", "scratch file to write; defaults to res/cmd-<uuid>.xml")
	cmd.MarkFlagRequired("package-root")
	return cmd
}

func newRunCommandCmd() *cobra.Command {
	var xmlBody string
	cmd := &cobra.Command{
		Use:   "run_command",
		Short: "Send a literal <data>...</data> document and print the response",
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := openTransport()
			if err != nil {
				return err
			}
			defer t.Close()

			doc := []byte(`<?xml version="1.0" encoding="UTF-8" ?><data>` + xmlBody + `</data>`)
			if _, err := t.Write(doc); err != nil {
				return fmt.Errorf("write: %w", err)
			}

			resp, err := readRawResponse(t)
			if err != nil {
				return err
			}
			els, err := firehose.ParseResponseDoc(resp)
			if err != nil {
				return err
			}
			for _, el := range els {
				fmt.Printf("%s %v\n", el.Tag, el.Attrs)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&xmlBody, "xml", "", "literal XML element to wrap in <data>...</data>, e.g. '<nop/>'")
	cmd.MarkFlagRequired("xml")
	return cmd
}

func readRawResponse(t interface {
	FillBuf() ([]byte, error)
	Consume(n int)
}) ([]byte, error) {
	var acc []byte
	for len(acc) < constants.MaxFirehoseDocSize {
		buf, err := t.FillBuf()
		if err != nil {
			return nil, err
		}
		acc = append(acc, buf...)
		t.Consume(len(buf))
		if idx := bytes.Index(acc, []byte("</data>")); idx >= 0 {
			return acc[:idx+len("</data>")], nil
		}
	}
	return nil, fmt.Errorf("run_command: response too large without terminator")
}
