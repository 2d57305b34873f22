/*
Package tchat is a line-based chat relay: every line a client sends over TCP
is forwarded to every other connected client.

tcpd subdirectory contains the TCP pieces which know nothing about relaying.

relay subdirectory contains the broadcast engine which knows nothing about
sockets.

The Server type is the glue between the tcpd and relay pieces.
*/
package tchat
