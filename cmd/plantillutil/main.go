package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/crafthub/plantilla/blobs"
	"github.com/crafthub/plantilla/catalog"
	"github.com/crafthub/plantilla/store"
)

var (
	storeDir = flag.String("s", ".", "location of the blob storage directory")
	qlFile   = flag.String("ql", "", "file of the embedded record database (empty for in-memory)")
	mysql    = flag.String("mysql", "", "MySQL dial string for the record database")
	usage    = `
plantillutil <command> <command arguments>

Possible commands:
    list

    info <template id list>

    blob <blob id>

    orphans
`
)

func main() {
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		fmt.Println(usage)
		return
	}

	fmt.Printf("Using storage dir %s\n", *storeDir)
	files := blobs.New(store.NewFileSystem(*storeDir))
	if err := files.Load(); err != nil {
		fmt.Println("Error scanning blob store:", err.Error())
		return
	}
	var records catalog.Store
	var err error
	if *mysql != "" {
		records, err = catalog.NewMysqlStore(*mysql)
	} else {
		name := *qlFile
		if name == "" {
			name = "memory"
		}
		records, err = catalog.NewQlStore(name)
	}
	if err != nil {
		fmt.Println("Error opening record database:", err.Error())
		return
	}

	run(records, files, args)
}

func run(records catalog.Store, files *blobs.Store, args []string) {
	switch args[0] {
	case "list":
		dolist(records)
	case "info":
		doinfo(records, files, args[1:])
	case "blob":
		if len(args) < 2 {
			fmt.Println(usage)
			return
		}
		doblob(files, args[1])
	case "orphans":
		doorphans(records, files)
	default:
		fmt.Println(usage)
	}
}

func dolist(records catalog.Store) {
	list, err := records.FindAllActive()
	if err != nil {
		fmt.Println("Error:", err.Error())
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 5, 1, 3, ' ', 0)
	fmt.Fprintf(w, "ID\tTitle\tAuthor\tCategory\tDownloads\n")
	for _, t := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n",
			t.ID, t.Title, t.Author, t.Category, t.DownloadCount)
	}
	w.Flush()
}

func doinfo(records catalog.Store, files *blobs.Store, ids []string) {
	for _, id := range ids {
		t, err := records.FindByID(id)
		if err != nil {
			fmt.Printf("%s: Error %s\n", id, err.Error())
			continue
		}
		fmt.Println("Template:", t.ID)
		w := tabwriter.NewWriter(os.Stdout, 5, 1, 3, ' ', 0)
		fmt.Fprintf(w, "Title:\t%s\n", t.Title)
		fmt.Fprintf(w, "Author:\t%s\n", t.Author)
		fmt.Fprintf(w, "Category:\t%s\n", t.Category)
		fmt.Fprintf(w, "Price:\t%v\n", t.Price)
		fmt.Fprintf(w, "Active:\t%v\n", t.IsActive)
		fmt.Fprintf(w, "Downloads:\t%d\n", t.DownloadCount)
		fmt.Fprintf(w, "FileName:\t%s\n", t.FileName)
		fmt.Fprintf(w, "Created:\t%v\n", t.CreatedAt)
		fmt.Fprintf(w, "Updated:\t%v\n", t.UpdatedAt)
		w.Flush()
		for _, bid := range []string{t.ImageBlob, t.FileBlob} {
			if bid == "" {
				continue
			}
			fmt.Println("---")
			printblob(w, files, bid)
		}
	}
}

func printblob(w *tabwriter.Writer, files *blobs.Store, id string) {
	info, err := files.Info(id)
	if err != nil {
		fmt.Printf("%s: Error %s\n", id, err.Error())
		return
	}
	fmt.Fprintf(w, "Blob:\t%s\n", info.ID)
	fmt.Fprintf(w, "Tag:\t%s\n", info.Tag)
	fmt.Fprintf(w, "ContentType:\t%s\n", info.ContentType)
	fmt.Fprintf(w, "Size:\t%d\n", info.Size)
	fmt.Fprintf(w, "Chunks:\t%d\n", info.NChunks)
	fmt.Fprintf(w, "MD5:\t%s\n", info.MD5)
	fmt.Fprintf(w, "Created:\t%v\n", info.Created)
	w.Flush()
}

func doblob(files *blobs.Store, id string) {
	rc, _, err := files.Open(id)
	if err != nil {
		fmt.Printf("%s: Error %s\n", id, err.Error())
		return
	}
	io.Copy(os.Stdout, rc)
	rc.Close()
}

// doorphans reports blobs no record references. Create failures can
// leave these behind, since the record is only saved after both
// uploads. The command only reports, it does not delete.
func doorphans(records catalog.Store, files *blobs.Store) {
	referenced := make(map[string]bool)
	list, err := records.FindAll()
	if err != nil {
		fmt.Println("Error:", err.Error())
		return
	}
	for _, t := range list {
		referenced[t.ImageBlob] = true
		referenced[t.FileBlob] = true
	}
	ids := files.List()
	sort.Strings(ids)
	var count int
	for _, id := range ids {
		if referenced[id] {
			continue
		}
		count++
		info, err := files.Info(id)
		if err != nil {
			fmt.Printf("%s: Error %s\n", id, err.Error())
			continue
		}
		fmt.Printf("%s\t%s\t%d\t%v\n", id, info.Tag, info.Size, info.Created)
	}
	fmt.Printf("%d blobs, %d orphaned\n", len(ids), count)
}
