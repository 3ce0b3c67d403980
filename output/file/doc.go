// Package file records gate commands to disk.
//
// Each command envelope is marshalled to JSON and buffered; the buffer is written when it
// reaches BufferSize records or every FlushInterval, whichever comes first. Format jsonl
// writes one envelope per line and is the format the replay and analysis tools expect.
//
//	sink, err := file.NewSink(file.Config{
//	    Directory:  "/var/lib/gesturegate",
//	    FilePrefix: "commands",
//	    Format:     "jsonl",
//	    Append:     true,
//	    BufferSize: 32,
//	}, logger)
//
// Close flushes the remaining records before closing the file.
package file
